package escrow

import (
	"fmt"
	"math/big"
)

// OrderStatus represents the lifecycle states of an escrow order. Values only
// ever increase along Created -> Funded -> {Cancelled, Success, Expired}.
type OrderStatus uint8

const (
	OrderCreated OrderStatus = iota
	OrderFunded
	OrderCancelled
	OrderSuccess
	OrderExpired
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderCreated, OrderFunded, OrderCancelled, OrderSuccess, OrderExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderCancelled || s == OrderSuccess || s == OrderExpired
}

func (s OrderStatus) String() string {
	switch s {
	case OrderCreated:
		return "created"
	case OrderFunded:
		return "funded"
	case OrderCancelled:
		return "cancelled"
	case OrderSuccess:
		return "success"
	case OrderExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// AuthMode selects how a seller proves it is the legitimate counterpart.
type AuthMode uint8

const (
	// AuthPlainIdentity requires the confirming seller to be the identity
	// bound at creation.
	AuthPlainIdentity AuthMode = iota
	// AuthNftBound requires proof of possession of the bound NFT.
	AuthNftBound
)

func (m AuthMode) String() string {
	switch m {
	case AuthPlainIdentity:
		return "plain_identity"
	case AuthNftBound:
		return "nft_bound"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Authorization is the tagged variant carried by every order. NftMint and
// BuyerNftAccount are meaningful only in AuthNftBound mode.
type Authorization struct {
	Mode            AuthMode
	NftMint         [20]byte
	BuyerNftAccount [20]byte
}

// PlainIdentity returns the identity-only authorization variant.
func PlainIdentity() Authorization { return Authorization{Mode: AuthPlainIdentity} }

// NftBound returns the proof-of-possession variant.
func NftBound(nftMint, buyerNftAccount [20]byte) Authorization {
	return Authorization{Mode: AuthNftBound, NftMint: nftMint, BuyerNftAccount: buyerNftAccount}
}

// Order is the persisted record of one escrow agreement. Its address is
// derived from the buyer, so one buyer has at most one record.
type Order struct {
	Address     [20]byte
	Buyer       [20]byte
	Seller      [20]byte // zero until confirmation unless bound at creation
	Mint        [20]byte
	Amount      *big.Int
	Expiration  int64
	CreatedAt   int64
	Status      OrderStatus
	EscrowVault [20]byte // zero until funded
	Auth        Authorization
	Confirmed   bool
	Sequence    uint64
}

// Clone returns a deep copy of the order so callers can safely mutate the copy
// without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// HasSeller reports whether a seller identity is recorded.
func (o *Order) HasSeller() bool {
	return o != nil && o.Seller != ([20]byte{})
}

// SanitizeOrder validates a stored order definition and returns a clone with a
// non-nil amount. The original value is not mutated.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	clone := o.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("order amount must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid order status: %d", clone.Status)
	}
	if clone.Expiration <= clone.CreatedAt {
		return nil, fmt.Errorf("order expiration must follow creation")
	}
	switch clone.Auth.Mode {
	case AuthPlainIdentity:
		if clone.Auth.NftMint != ([20]byte{}) || clone.Auth.BuyerNftAccount != ([20]byte{}) {
			return nil, fmt.Errorf("plain identity order carries nft binding")
		}
	case AuthNftBound:
		if clone.Auth.NftMint == ([20]byte{}) || clone.Auth.BuyerNftAccount == ([20]byte{}) {
			return nil, fmt.Errorf("nft bound order missing nft binding")
		}
	default:
		return nil, fmt.Errorf("invalid authorization mode: %d", clone.Auth.Mode)
	}
	return clone, nil
}

// Vault is the custody record of one funded order. The underlying token
// account is owned by the order address, for which no private key exists.
type Vault struct {
	Address [20]byte
	Order   [20]byte
	Mint    [20]byte
	Closed  bool
}

// Clone returns a copy of the vault record.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// Params are the tunables of the state machine.
type Params struct {
	// MinExpirationLead is the minimum number of seconds between creation and
	// expiration. Expiration must always be strictly after creation.
	MinExpirationLead int64
	// MaxExpirationLead caps how far ahead an expiration may be. Zero disables
	// the cap.
	MaxExpirationLead int64
}

// DefaultParams enforces a one-minute minimum window and no maximum.
func DefaultParams() Params {
	return Params{MinExpirationLead: 60}
}

// Validate reports inconsistent parameters.
func (p Params) Validate() error {
	if p.MinExpirationLead < 0 {
		return fmt.Errorf("min expiration lead must not be negative")
	}
	if p.MaxExpirationLead < 0 {
		return fmt.Errorf("max expiration lead must not be negative")
	}
	if p.MaxExpirationLead > 0 && p.MaxExpirationLead < p.MinExpirationLead {
		return fmt.Errorf("max expiration lead below min expiration lead")
	}
	return nil
}
