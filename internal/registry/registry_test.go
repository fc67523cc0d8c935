package registry

import (
	"errors"
	"strings"
	"testing"

	"compute-perps-indexer/internal/domain"
)

const testYAML = `
markets:
  - id: gpu-h100
    name: H100 futures
    contractAddress: "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
    genesisBlock: 100
    active: true
  - id: cpu-epyc
    name: EPYC futures (settled)
    contractAddress: "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
    genesisBlock: 50
    active: false
`

func TestLoad(t *testing.T) {
	reg, err := Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := len(reg.List()); got != 2 {
		t.Fatalf("List returned %d markets, want 2", got)
	}

	active := reg.ListActive()
	if len(active) != 1 || active[0].ID != "gpu-h100" {
		t.Fatalf("ListActive = %v, want just gpu-h100", active)
	}

	// Lowercase input is normalized to checksummed form.
	if active[0].ContractAddress != "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC" {
		t.Errorf("address not checksummed: %s", active[0].ContractAddress)
	}
}

func TestGet_DeprecatedMarketQueryable(t *testing.T) {
	reg, err := Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	m, err := reg.Get("cpu-epyc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.Active {
		t.Error("expected cpu-epyc to be inactive")
	}
}

func TestGet_Unknown(t *testing.T) {
	reg, err := Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err = reg.Get("nope")
	if !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	valid := &domain.Market{
		ID:              "m1",
		ContractAddress: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
		GenesisBlock:    10,
		Active:          true,
	}

	cases := []struct {
		name    string
		markets []*domain.Market
	}{
		{"empty id", []*domain.Market{{ContractAddress: valid.ContractAddress}}},
		{"duplicate id", []*domain.Market{valid, valid}},
		{"bad address", []*domain.Market{{ID: "m2", ContractAddress: "not-an-address"}}},
		{"negative genesis", []*domain.Market{{ID: "m3", ContractAddress: valid.ContractAddress, GenesisBlock: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.markets); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_UnknownField(t *testing.T) {
	bad := `
markets:
  - id: m1
    contractAddress: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
    genesisBlok: 5
`
	if _, err := Load(strings.NewReader(bad)); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoad_Empty(t *testing.T) {
	if _, err := Load(strings.NewReader("markets: []")); err == nil {
		t.Error("expected error for empty registry")
	}
}
