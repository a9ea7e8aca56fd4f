package escrow

import (
	"nftescrow/crypto"
	"nftescrow/native/token"
)

const orderSeed = "order"

type registryState interface {
	EscrowOrderGet(addr [20]byte) (*Order, bool, error)
	EscrowOrderPut(*Order) error
	EscrowOrderDelete(addr [20]byte) error
	EscrowSequenceGet(buyer [20]byte) (uint64, error)
	EscrowSequencePut(buyer [20]byte, seq uint64) error
}

// DeriveOrderAddress returns the storage address of buyer's order.
func DeriveOrderAddress(buyer [20]byte) [20]byte {
	return crypto.DeriveAddress(orderSeed, buyer[:])
}

// Registry binds order records to their derived addresses and enforces one
// live order per buyer.
type Registry struct {
	state  registryState
	ledger *token.Ledger
}

// NewRegistry wires a registry over state. The ledger is consulted to make
// sure a vault is empty before its order is unbound.
func NewRegistry(state registryState, ledger *token.Ledger) *Registry {
	return &Registry{state: state, ledger: ledger}
}

// Lookup returns the order bound at addr.
func (r *Registry) Lookup(addr [20]byte) (*Order, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	order, ok, err := r.state.EscrowOrderGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return order, nil
}

// CheckFree fails with ErrAlreadyExists when a non-terminal order is bound at
// addr.
func (r *Registry) CheckFree(addr [20]byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	existing, ok, err := r.state.EscrowOrderGet(addr)
	if err != nil {
		return err
	}
	if ok && !existing.Status.Terminal() {
		return ErrAlreadyExists
	}
	return nil
}

// NextSequence returns the generation number the next order of buyer will
// carry. Sequences survive Unbind so derived vault names are never reused.
func (r *Registry) NextSequence(buyer [20]byte) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	return r.state.EscrowSequenceGet(buyer)
}

// Bind stores a new order at its derived address. A terminal record left at
// the address is replaced.
func (r *Registry) Bind(order *Order) error {
	if order == nil {
		return invalidArgument("nil order")
	}
	if order.Address != DeriveOrderAddress(order.Buyer) {
		return invalidArgument("order address does not match buyer derivation")
	}
	if err := r.CheckFree(order.Address); err != nil {
		return err
	}
	sanitized, err := SanitizeOrder(order)
	if err != nil {
		return invalidArgument(err.Error())
	}
	if err := r.state.EscrowOrderPut(sanitized); err != nil {
		return err
	}
	return r.state.EscrowSequencePut(order.Buyer, order.Sequence+1)
}

// Update persists a transition of an already bound order.
func (r *Registry) Update(order *Order) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if _, err := r.Lookup(order.Address); err != nil {
		return err
	}
	return r.state.EscrowOrderPut(order)
}

// Unbind deallocates the order at addr. Only terminal orders whose vault holds
// nothing may be removed.
func (r *Registry) Unbind(addr [20]byte) error {
	order, err := r.Lookup(addr)
	if err != nil {
		return err
	}
	if !order.Status.Terminal() {
		return ErrWrongStatus
	}
	if order.EscrowVault != ([20]byte{}) {
		if r.ledger == nil {
			return errNilLedger
		}
		balance, err := r.ledger.BalanceOf(order.EscrowVault)
		if err != nil {
			return err
		}
		if balance.Sign() != 0 {
			return ErrVaultNotEmpty
		}
	}
	return r.state.EscrowOrderDelete(addr)
}
