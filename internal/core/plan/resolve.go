package plan

import "github.com/artpar/deployseq/internal/core/domain"

// ResolveArgs turns the bindings of the entry at index into concrete
// constructor arguments. Literals pass through unchanged and references are
// replaced by the address recorded in table.
//
// A reference without an address yields *domain.UnresolvedReferenceError.
// Plans built with New never produce one as long as the table is filled in
// plan order.
func ResolveArgs(index int, e domain.PlanEntry, table *domain.AddressTable) ([]any, error) {
	args := make([]any, len(e.Args))
	for i, b := range e.Args {
		if !b.IsRef() {
			args[i] = b.Literal
			continue
		}
		addr, ok := table.Lookup(b.Ref)
		if !ok {
			return nil, &domain.UnresolvedReferenceError{Index: index, Unit: e.Name(), Ref: b.Ref}
		}
		args[i] = addr
	}
	return args, nil
}
