package state

import (
	"fmt"
	"math/big"

	"nftescrow/native/escrow"
)

type storedOrder struct {
	Address         [20]byte
	Buyer           [20]byte
	Seller          [20]byte
	Mint            [20]byte
	Amount          *big.Int
	Expiration      uint64
	CreatedAt       uint64
	Status          uint8
	EscrowVault     [20]byte
	AuthMode        uint8
	NftMint         [20]byte
	BuyerNftAccount [20]byte
	Confirmed       bool
	Sequence        uint64
}

type storedVault struct {
	Address [20]byte
	Order   [20]byte
	Mint    [20]byte
	Closed  bool
}

func toUnix(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("state: negative timestamp %d", v)
	}
	return uint64(v), nil
}

// EscrowOrderPut persists a sanitized copy of order.
func (m *Manager) EscrowOrderPut(order *escrow.Order) error {
	sanitized, err := escrow.SanitizeOrder(order)
	if err != nil {
		return err
	}
	expiration, err := toUnix(sanitized.Expiration)
	if err != nil {
		return err
	}
	created, err := toUnix(sanitized.CreatedAt)
	if err != nil {
		return err
	}
	return m.KVPut(prefixed(escrowOrderPrefix, sanitized.Address[:]), &storedOrder{
		Address:         sanitized.Address,
		Buyer:           sanitized.Buyer,
		Seller:          sanitized.Seller,
		Mint:            sanitized.Mint,
		Amount:          sanitized.Amount,
		Expiration:      expiration,
		CreatedAt:       created,
		Status:          uint8(sanitized.Status),
		EscrowVault:     sanitized.EscrowVault,
		AuthMode:        uint8(sanitized.Auth.Mode),
		NftMint:         sanitized.Auth.NftMint,
		BuyerNftAccount: sanitized.Auth.BuyerNftAccount,
		Confirmed:       sanitized.Confirmed,
		Sequence:        sanitized.Sequence,
	})
}

// EscrowOrderGet loads the order bound at addr.
func (m *Manager) EscrowOrderGet(addr [20]byte) (*escrow.Order, bool, error) {
	var stored storedOrder
	ok, err := m.KVGet(prefixed(escrowOrderPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	order := &escrow.Order{
		Address:     stored.Address,
		Buyer:       stored.Buyer,
		Seller:      stored.Seller,
		Mint:        stored.Mint,
		Amount:      nonNil(stored.Amount),
		Expiration:  int64(stored.Expiration),
		CreatedAt:   int64(stored.CreatedAt),
		Status:      escrow.OrderStatus(stored.Status),
		EscrowVault: stored.EscrowVault,
		Auth: escrow.Authorization{
			Mode:            escrow.AuthMode(stored.AuthMode),
			NftMint:         stored.NftMint,
			BuyerNftAccount: stored.BuyerNftAccount,
		},
		Confirmed: stored.Confirmed,
		Sequence:  stored.Sequence,
	}
	sanitized, err := escrow.SanitizeOrder(order)
	if err != nil {
		return nil, false, fmt.Errorf("state: corrupt order record: %w", err)
	}
	return sanitized, true, nil
}

// EscrowOrderDelete removes the order bound at addr.
func (m *Manager) EscrowOrderDelete(addr [20]byte) error {
	return m.KVDelete(prefixed(escrowOrderPrefix, addr[:]))
}

// EscrowSequenceGet returns the next order generation of buyer.
func (m *Manager) EscrowSequenceGet(buyer [20]byte) (uint64, error) {
	var seq uint64
	if _, err := m.KVGet(prefixed(escrowSequencePrefix, buyer[:]), &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// EscrowSequencePut records the next order generation of buyer.
func (m *Manager) EscrowSequencePut(buyer [20]byte, seq uint64) error {
	return m.KVPut(prefixed(escrowSequencePrefix, buyer[:]), seq)
}

// EscrowVaultGet loads the custody record at addr.
func (m *Manager) EscrowVaultGet(addr [20]byte) (*escrow.Vault, bool, error) {
	var stored storedVault
	ok, err := m.KVGet(prefixed(escrowVaultPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &escrow.Vault{
		Address: stored.Address,
		Order:   stored.Order,
		Mint:    stored.Mint,
		Closed:  stored.Closed,
	}, true, nil
}

// EscrowVaultPut persists vault.
func (m *Manager) EscrowVaultPut(vault *escrow.Vault) error {
	return m.KVPut(prefixed(escrowVaultPrefix, vault.Address[:]), &storedVault{
		Address: vault.Address,
		Order:   vault.Order,
		Mint:    vault.Mint,
		Closed:  vault.Closed,
	})
}
