package plan

import (
	"errors"
	"testing"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveArgs(t *testing.T) {
	table := domain.NewAddressTable()
	require.NoError(t, table.Add("NFT", "0xAA"))
	require.NoError(t, table.Add("Mineral", "0xBB"))

	e := entry("Market", domain.RefArg("NFT"), domain.LiteralArg(uint64(3)), domain.RefArg("Mineral"))
	args, err := ResolveArgs(2, e, table)
	require.NoError(t, err)
	assert.Equal(t, []any{"0xAA", uint64(3), "0xBB"}, args)
}

func TestResolveArgs_NoArgs(t *testing.T) {
	args, err := ResolveArgs(0, entry("Token"), domain.NewAddressTable())
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestResolveArgs_Unresolved(t *testing.T) {
	_, err := ResolveArgs(1, entry("Market", domain.RefArg("NFT")), domain.NewAddressTable())

	var unresolved *domain.UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, 1, unresolved.Index)
	assert.Equal(t, "Market", unresolved.Unit)
	assert.Equal(t, "NFT", unresolved.Ref)
}
