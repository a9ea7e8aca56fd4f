package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"nftescrow/crypto"
)

// GenesisSpec seeds the ledger with mints and initial balances. It is applied
// once, the first time a node starts on an empty database.
type GenesisSpec struct {
	Mints []MintSpec `json:"mints" toml:"mints" yaml:"mints"`
}

// MintSpec registers one mint. The mint address is derived from Authority and
// Symbol.
type MintSpec struct {
	Authority   string           `json:"authority" toml:"authority" yaml:"authority"`
	Symbol      string           `json:"symbol" toml:"symbol" yaml:"symbol"`
	Decimals    uint8            `json:"decimals" toml:"decimals" yaml:"decimals"`
	NonFungible bool             `json:"nonFungible" toml:"non_fungible" yaml:"nonFungible"`
	Alloc       []AllocationSpec `json:"alloc" toml:"alloc" yaml:"alloc"`
}

// AllocationSpec credits Amount to the holding account of Owner.
type AllocationSpec struct {
	Owner  string `json:"owner" toml:"owner" yaml:"owner"`
	Amount string `json:"amount" toml:"amount" yaml:"amount"`
}

// LoadGenesisSpec reads a JSON genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// Validate checks addresses, symbols and amounts.
func (s *GenesisSpec) Validate() error {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Mints))
	for i := range s.Mints {
		m := &s.Mints[i]
		if err := m.validate(); err != nil {
			return fmt.Errorf("mints[%d]: %w", i, err)
		}
		key := m.Authority + "/" + strings.ToUpper(strings.TrimSpace(m.Symbol))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("mints[%d]: duplicate mint %s", i, m.Symbol)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (m *MintSpec) validate() error {
	if strings.TrimSpace(m.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if m.Decimals > 18 {
		return fmt.Errorf("decimals must be 18 or fewer")
	}
	if _, err := crypto.ParseRaw(m.Authority); err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	total := big.NewInt(0)
	for j, alloc := range m.Alloc {
		if _, err := crypto.ParseRaw(alloc.Owner); err != nil {
			return fmt.Errorf("alloc[%d].owner: %w", j, err)
		}
		amount, err := parseAmountString(alloc.Amount)
		if err != nil {
			return fmt.Errorf("alloc[%d].amount: %w", j, err)
		}
		total.Add(total, amount)
	}
	if m.NonFungible && total.Cmp(big.NewInt(1)) > 0 {
		return fmt.Errorf("non-fungible mint %s allocates more than one unit", m.Symbol)
	}
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
