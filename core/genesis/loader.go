package genesis

import (
	"errors"
	"fmt"

	"nftescrow/crypto"
	"nftescrow/native/token"
)

// Apply creates every mint of spec on ledger and credits its allocations.
// Mints that already exist are skipped so a restarted node can re-apply the
// same spec.
func Apply(spec *GenesisSpec, ledger *token.Ledger) (int, error) {
	if spec == nil {
		return 0, nil
	}
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	created := 0
	for _, m := range spec.Mints {
		authority, _ := crypto.ParseRaw(m.Authority)
		mint, err := ledger.CreateMint(authority, m.Symbol, m.Decimals, m.NonFungible)
		if errors.Is(err, token.ErrMintExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create mint %s: %w", m.Symbol, err)
		}
		created++
		for _, alloc := range m.Alloc {
			owner, _ := crypto.ParseRaw(alloc.Owner)
			amount, _ := parseAmountString(alloc.Amount)
			acc, err := ledger.EnsureHoldingAccount(owner, mint.Address)
			if err != nil {
				return created, fmt.Errorf("open %s account for %s: %w", m.Symbol, alloc.Owner, err)
			}
			if amount.Sign() == 0 {
				continue
			}
			if err := ledger.MintTo(mint.Address, authority, acc.Address, amount); err != nil {
				return created, fmt.Errorf("allocate %s to %s: %w", m.Symbol, alloc.Owner, err)
			}
		}
	}
	return created, nil
}
