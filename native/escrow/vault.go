package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"nftescrow/crypto"
	"nftescrow/native/token"
)

const vaultSeed = "vault"

type vaultState interface {
	EscrowVaultGet(addr [20]byte) (*Vault, bool, error)
	EscrowVaultPut(*Vault) error
}

// VaultAddress derives the custody account of the order at orderAddr for its
// seq-th generation.
func VaultAddress(orderAddr [20]byte, seq uint64) [20]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return crypto.DeriveAddress(vaultSeed, orderAddr[:], buf[:])
}

// Custody holds escrowed funds in token accounts owned by the order address.
// Neither buyer nor seller can sign for that address, so only the escrow
// operations move funds out.
type Custody struct {
	state  vaultState
	ledger *token.Ledger
}

// NewCustody wires custody over state and the token ledger.
func NewCustody(state vaultState, ledger *token.Ledger) *Custody {
	return &Custody{state: state, ledger: ledger}
}

func (c *Custody) ready() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if c.ledger == nil {
		return errNilLedger
	}
	return nil
}

// Vault returns the custody record at addr.
func (c *Custody) Vault(addr [20]byte) (*Vault, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	vault, ok, err := c.state.EscrowVaultGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	return vault, nil
}

// Balance returns the amount currently held at addr. Closed or unknown vaults
// hold zero.
func (c *Custody) Balance(addr [20]byte) (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.ledger.BalanceOf(addr)
}

// OpenVault creates the custody account for order.
func (c *Custody) OpenVault(order *Order) (*Vault, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	addr := VaultAddress(order.Address, order.Sequence)
	if _, ok, err := c.state.EscrowVaultGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("escrow: vault %s already opened", crypto.FormatRaw(addr))
	}
	if _, err := c.ledger.OpenCustodyAccount(addr, order.Address, order.Mint); err != nil {
		return nil, err
	}
	vault := &Vault{Address: addr, Order: order.Address, Mint: order.Mint}
	if err := c.state.EscrowVaultPut(vault); err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// Deposit moves amount from the buyer's holding account into the vault. The
// amount must equal the order's declared amount.
func (c *Custody) Deposit(vaultAddr [20]byte, order *Order, from, authority [20]byte, amount *big.Int) error {
	vault, err := c.Vault(vaultAddr)
	if err != nil {
		return err
	}
	if vault.Closed {
		return ErrAlreadyClosed
	}
	if vault.Order != order.Address {
		return fmt.Errorf("escrow: vault belongs to a different order")
	}
	if amount == nil || order.Amount == nil || amount.Cmp(order.Amount) != 0 {
		return ErrAmountMismatch
	}
	return c.ledger.DepositToCustody(from, vaultAddr, authority, amount)
}

// Release moves the full vault balance to the holding account to and closes
// the vault. The vault must hold at least amount.
func (c *Custody) Release(vaultAddr, to [20]byte, amount *big.Int) error {
	vault, err := c.Vault(vaultAddr)
	if err != nil {
		return err
	}
	if vault.Closed {
		return ErrAlreadyClosed
	}
	balance, err := c.ledger.BalanceOf(vaultAddr)
	if err != nil {
		return err
	}
	if amount == nil || balance.Cmp(amount) < 0 {
		return ErrAmountMismatch
	}
	if balance.Sign() > 0 {
		if err := c.ledger.Transfer(vaultAddr, to, vault.Order, balance); err != nil {
			return err
		}
	}
	if err := c.ledger.CloseAccount(vaultAddr, vault.Order); err != nil {
		return err
	}
	vault.Closed = true
	return c.state.EscrowVaultPut(vault)
}
