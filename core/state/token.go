package state

import (
	"math/big"

	"nftescrow/native/token"
)

type storedMint struct {
	Address     [20]byte
	Authority   [20]byte
	Symbol      string
	Decimals    uint8
	NonFungible bool
	Supply      *big.Int
}

type storedAccount struct {
	Address [20]byte
	Owner   [20]byte
	Mint    [20]byte
	Balance *big.Int
	Custody bool `rlp:"optional"`
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// TokenMintGet loads the mint registered at addr.
func (m *Manager) TokenMintGet(addr [20]byte) (*token.Mint, bool, error) {
	var stored storedMint
	ok, err := m.KVGet(prefixed(tokenMintPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &token.Mint{
		Address:     stored.Address,
		Authority:   stored.Authority,
		Symbol:      stored.Symbol,
		Decimals:    stored.Decimals,
		NonFungible: stored.NonFungible,
		Supply:      nonNil(stored.Supply),
	}, true, nil
}

// TokenMintPut persists mint.
func (m *Manager) TokenMintPut(mint *token.Mint) error {
	return m.KVPut(prefixed(tokenMintPrefix, mint.Address[:]), &storedMint{
		Address:     mint.Address,
		Authority:   mint.Authority,
		Symbol:      mint.Symbol,
		Decimals:    mint.Decimals,
		NonFungible: mint.NonFungible,
		Supply:      nonNil(mint.Supply),
	})
}

// TokenAccountGet loads the holding account at addr.
func (m *Manager) TokenAccountGet(addr [20]byte) (*token.Account, bool, error) {
	var stored storedAccount
	ok, err := m.KVGet(prefixed(tokenAccountPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &token.Account{
		Address: stored.Address,
		Owner:   stored.Owner,
		Mint:    stored.Mint,
		Balance: nonNil(stored.Balance),
		Custody: stored.Custody,
	}, true, nil
}

// TokenAccountPut persists acc.
func (m *Manager) TokenAccountPut(acc *token.Account) error {
	return m.KVPut(prefixed(tokenAccountPrefix, acc.Address[:]), &storedAccount{
		Address: acc.Address,
		Owner:   acc.Owner,
		Mint:    acc.Mint,
		Balance: nonNil(acc.Balance),
		Custody: acc.Custody,
	})
}

// TokenAccountDelete removes the account at addr.
func (m *Manager) TokenAccountDelete(addr [20]byte) error {
	return m.KVDelete(prefixed(tokenAccountPrefix, addr[:]))
}
