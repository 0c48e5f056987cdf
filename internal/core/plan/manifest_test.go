package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/core/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mineralManifest = `
order: declared
units:
  - name: MineralNFT
    args: ["MineralNFT", "FSI"]
  - name: Mineral
  - name: MineralNFTMarket
    args:
      - ref: MineralNFT
      - ref: Mineral
  - name: Factory
    optional: true
`

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		domain.UnitDescriptor{Name: "MineralNFT", Interface: []byte(`[{"type":"constructor"}]`), Bytecode: "0x01"},
		domain.UnitDescriptor{Name: "Mineral", Interface: []byte(`[]`), Bytecode: "0x02"},
		domain.UnitDescriptor{Name: "MineralNFTMarket", Interface: []byte(`[]`), Bytecode: "0x03"},
		domain.UnitDescriptor{Name: "Factory", Interface: []byte(`[]`), Bytecode: "0x04"},
	)
	require.NoError(t, err)
	return reg
}

func TestParseManifest_Arguments(t *testing.T) {
	m, err := ParseManifest([]byte(`
units:
  - name: Token
    args:
      - "Mineral"
      - 18
      - true
      - value: {nested: 1}
      - [1, 2]
      - ref: Other
`))
	require.NoError(t, err)
	require.Len(t, m.Units, 1)

	args := m.Units[0].Args
	require.Len(t, args, 6)
	assert.Equal(t, "Mineral", args[0].Literal)
	assert.Equal(t, 18, args[1].Literal)
	assert.Equal(t, true, args[2].Literal)
	assert.Equal(t, map[string]any{"nested": 1}, args[3].Literal)
	assert.Equal(t, []any{1, 2}, args[4].Literal)
	assert.True(t, args[5].IsRef())
	assert.Equal(t, "Other", args[5].Ref)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty ref", "units:\n  - name: A\n    args:\n      - ref: \"\"\n"},
		{"two keys", "units:\n  - name: A\n    args:\n      - {ref: B, value: 1}\n"},
		{"unknown key", "units:\n  - name: A\n    args:\n      - {address: B}\n"},
		{"bad yaml", "units: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			requireConfigError(t, err, domain.ErrInvalidManifest)
		})
	}
}

func TestManifestBuild_Declared(t *testing.T) {
	m, err := ParseManifest([]byte(mineralManifest))
	require.NoError(t, err)

	p, err := m.Build(testRegistry(t), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"MineralNFT", "Mineral", "MineralNFTMarket"}, p.Units())

	nft, ok := p.Entry(0)
	require.True(t, ok)
	assert.Equal(t, "0x01", nft.Unit.Bytecode)
	assert.Equal(t, []any{"MineralNFT", "FSI"}, []any{nft.Args[0].Literal, nft.Args[1].Literal})
}

func TestManifestBuild_IncludeOptional(t *testing.T) {
	m, err := ParseManifest([]byte(mineralManifest))
	require.NoError(t, err)

	p, err := m.Build(testRegistry(t), BuildOptions{IncludeOptional: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"MineralNFT", "Mineral", "MineralNFTMarket", "Factory"}, p.Units())
}

func TestManifestBuild_DependencyOrder(t *testing.T) {
	m, err := ParseManifest([]byte(`
order: dependencies
units:
  - name: MineralNFTMarket
    args: [{ref: MineralNFT}, {ref: Mineral}]
  - name: MineralNFT
    args: ["MineralNFT", "FSI"]
  - name: Mineral
`))
	require.NoError(t, err)

	p, err := m.Build(testRegistry(t), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"MineralNFT", "Mineral", "MineralNFTMarket"}, p.Units())
}

func TestManifestBuild_DeclaredForwardReference(t *testing.T) {
	m, err := ParseManifest([]byte(`
units:
  - name: MineralNFTMarket
    args: [{ref: MineralNFT}]
  - name: MineralNFT
`))
	require.NoError(t, err)

	_, err = m.Build(testRegistry(t), BuildOptions{})
	requireConfigError(t, err, domain.ErrForwardReference)
}

func TestManifestBuild_ErrorIndexIsManifestPosition(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		sentinel error
		index    int
		message  string
	}{
		{
			name: "duplicate after dropped optional",
			yaml: `
units:
  - name: Factory
    optional: true
  - name: MineralNFT
  - name: MineralNFT
`,
			sentinel: domain.ErrDuplicateUnit,
			index:    2,
			message:  "already defined at entry 1",
		},
		{
			name: "forward reference after dropped optional",
			yaml: `
units:
  - name: Factory
    optional: true
  - name: MineralNFTMarket
    args: [{ref: MineralNFT}]
  - name: MineralNFT
`,
			sentinel: domain.ErrForwardReference,
			index:    1,
			message:  "defined later at entry 2",
		},
		{
			name: "unknown reference after reordering",
			yaml: `
order: dependencies
units:
  - name: Factory
    optional: true
  - name: MineralNFTMarket
    args: [{ref: MineralNFT}, {ref: Ghost}]
  - name: MineralNFT
`,
			sentinel: domain.ErrUnknownReference,
			index:    1,
			message:  "Ghost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = m.Build(testRegistry(t), BuildOptions{})
			cfgErr := requireConfigError(t, err, tt.sentinel)
			assert.Equal(t, tt.index, cfgErr.Index)
			assert.Contains(t, cfgErr.Message, tt.message)
		})
	}
}

func TestManifestBuild_DescriptorAlias(t *testing.T) {
	m, err := ParseManifest([]byte(`
units:
  - name: GoldToken
    descriptor: Mineral
  - name: SilverToken
    descriptor: Mineral
`))
	require.NoError(t, err)

	p, err := m.Build(testRegistry(t), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"GoldToken", "SilverToken"}, p.Units())
	silver, ok := p.Entry(1)
	require.True(t, ok)
	assert.Equal(t, "0x02", silver.Unit.Bytecode)
}

func TestManifestBuild_Errors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		sentinel error
	}{
		{"unknown descriptor", "units:\n  - name: Oracle\n", domain.ErrUnknownDescriptor},
		{"missing name", "units:\n  - descriptor: Mineral\n", domain.ErrEmptyUnitName},
		{"unknown order", "order: random\nunits:\n  - name: Mineral\n", domain.ErrInvalidManifest},
		{"no units", "units: []\n", domain.ErrEmptyPlan},
		{"optional dependency excluded", mineralManifest + "  - name: Router\n    descriptor: Mineral\n    args: [{ref: Factory}]\n", domain.ErrUnknownReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = m.Build(testRegistry(t), BuildOptions{})
			requireConfigError(t, err, tt.sentinel)
		})
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mineralManifest), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Units, 4)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
