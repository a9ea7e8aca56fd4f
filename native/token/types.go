package token

import (
	"math/big"
	"strings"

	"nftescrow/crypto"
)

// Mint describes one asset type. Non-fungible mints have zero decimals and a
// total supply capped at one unit.
type Mint struct {
	Address     [20]byte
	Authority   [20]byte
	Symbol      string
	Decimals    uint8
	NonFungible bool
	Supply      *big.Int
}

// Account is a holding account bound to one owner and one mint. Custody
// accounts are held by a program address and can only be credited through
// DepositToCustody.
type Account struct {
	Address [20]byte
	Owner   [20]byte
	Mint    [20]byte
	Balance *big.Int
	Custody bool
}

// Clone returns a deep copy of the mint.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Supply = cloneBigInt(m.Supply)
	return &clone
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Balance = cloneBigInt(a.Balance)
	return &clone
}

// MintAddress derives the address of the mint registered by authority under
// symbol.
func MintAddress(authority [20]byte, symbol string) [20]byte {
	return crypto.DeriveAddress("mint", authority[:], []byte(normalizeSymbol(symbol)))
}

// HoldingAddress derives the canonical holding account of owner for mint.
func HoldingAddress(owner, mint [20]byte) [20]byte {
	return crypto.DeriveAddress("holding", owner[:], mint[:])
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
