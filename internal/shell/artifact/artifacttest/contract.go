// Package artifacttest provides contract tests for [artifact.Store]
// implementations.
package artifacttest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/shell/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh, empty [artifact.Store] for each test.
type Factory func(t *testing.T, cn domain.CaseNormalization) artifact.Store

const (
	checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	lowered     = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
)

var (
	tokenABI  = json.RawMessage(`[{"type":"constructor","inputs":[]}]`)
	marketABI = json.RawMessage(`[{"type":"constructor","inputs":[{"name":"token","type":"address"}]}]`)
)

// Run exercises the [artifact.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("PersistAndGet", func(t *testing.T) {
		store := factory(t, domain.CaseLowercase)
		ctx := context.Background()

		require.NoError(t, store.Persist(ctx, "Token", tokenABI, checksummed))

		rec, err := store.Get(ctx, "Token")
		require.NoError(t, err)
		assert.Equal(t, "Token", rec.Unit)
		assert.Equal(t, lowered, rec.Address)
		assert.JSONEq(t, string(tokenABI), string(rec.Interface))
	})

	t.Run("AsProvidedKeepsCase", func(t *testing.T) {
		store := factory(t, domain.CaseAsProvided)
		ctx := context.Background()

		require.NoError(t, store.Persist(ctx, "Token", tokenABI, checksummed))

		rec, err := store.Get(ctx, "Token")
		require.NoError(t, err)
		assert.Equal(t, checksummed, rec.Address)
	})

	t.Run("OverwriteReplacesBothFields", func(t *testing.T) {
		store := factory(t, domain.CaseLowercase)
		ctx := context.Background()

		require.NoError(t, store.Persist(ctx, "Market", tokenABI, "0xAA"))
		require.NoError(t, store.Persist(ctx, "Market", marketABI, "0xBB"))

		rec, err := store.Get(ctx, "Market")
		require.NoError(t, err)
		assert.Equal(t, "0xbb", rec.Address)
		assert.JSONEq(t, string(marketABI), string(rec.Interface))

		records, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t, domain.CaseLowercase)

		_, err := store.Get(context.Background(), "Nope")
		assert.True(t, errors.Is(err, artifact.ErrNotFound), "got %v", err)
	})

	t.Run("RejectsInvalidData", func(t *testing.T) {
		store := factory(t, domain.CaseLowercase)
		ctx := context.Background()

		tests := []struct {
			name    string
			unit    string
			iface   json.RawMessage
			address string
		}{
			{"empty unit", "", tokenABI, "0xAA"},
			{"path unit", "../Token", tokenABI, "0xAA"},
			{"empty descriptor", "Token", nil, "0xAA"},
			{"invalid descriptor", "Token", json.RawMessage(`{not json`), "0xAA"},
			{"empty address", "Token", tokenABI, "  "},
		}
		for _, tt := range tests {
			err := store.Persist(ctx, tt.unit, tt.iface, tt.address)
			assert.True(t, errors.Is(err, artifact.ErrInvalidData), "%s: got %v", tt.name, err)
		}

		_, err := store.Get(ctx, "Token")
		assert.True(t, errors.Is(err, artifact.ErrNotFound), "rejected writes must leave no record: %v", err)
	})

	t.Run("ListSorted", func(t *testing.T) {
		store := factory(t, domain.CaseLowercase)
		ctx := context.Background()

		require.NoError(t, store.Persist(ctx, "Mineral", tokenABI, "0x02"))
		require.NoError(t, store.Persist(ctx, "MineralNFT", tokenABI, "0x01"))
		require.NoError(t, store.Persist(ctx, "Factory", marketABI, "0x03"))

		records, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "Factory", records[0].Unit)
		assert.Equal(t, "Mineral", records[1].Unit)
		assert.Equal(t, "MineralNFT", records[2].Unit)
		assert.Equal(t, "0x01", records[2].Address)
	})
}
