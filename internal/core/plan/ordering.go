package plan

import (
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
)

// =============================================================================
// Entry Ordering Functions
// =============================================================================

// OrderByDependencies sorts entries so every unit comes after the units its
// arguments reference, using Kahn's algorithm.
//
// Among units that are ready at the same time the declared order wins, so an
// already valid order is returned unchanged:
//
//	// Declared: Market(ref NFT, ref Mineral), NFT, Mineral
//	sorted, _ := OrderByDependencies(entries)
//	// Result: NFT, Mineral, Market
//
// References to names outside entries and self references are left for New
// to report. Duplicate names are returned unsorted for the same reason.
// A cycle yields a *domain.ConfigurationError wrapping ErrDependencyCycle.
func OrderByDependencies(entries []domain.PlanEntry) ([]domain.PlanEntry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	// Build dependency graph
	position := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, dup := position[e.Name()]; dup {
			return entries, nil
		}
		position[e.Name()] = i
	}

	inDegree := make([]int, len(entries))
	dependents := make([][]int, len(entries))
	for i, e := range entries {
		seen := make(map[string]bool)
		for _, ref := range e.References() {
			dep, ok := position[ref]
			if !ok || dep == i || seen[ref] {
				continue
			}
			seen[ref] = true
			inDegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	// Ready set is kept sorted by declared position
	ready := make([]bool, len(entries))
	for i := range entries {
		ready[i] = inDegree[i] == 0
	}

	result := make([]domain.PlanEntry, 0, len(entries))
	done := make([]bool, len(entries))
	for len(result) < len(entries) {
		next := -1
		for i := range entries {
			if ready[i] && !done[i] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}

		done[next] = true
		result = append(result, entries[next])

		// Reduce in-degree for dependents
		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready[dep] = true
			}
		}
	}

	if len(result) < len(entries) {
		var stuck []string
		for i, e := range entries {
			if !done[i] {
				stuck = append(stuck, e.Name())
			}
		}
		return nil, domain.NewConfigurationError(-1, "",
			"dependency cycle among "+strings.Join(stuck, ", "), domain.ErrDependencyCycle)
	}

	return result, nil
}
