package token

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nftescrow/core/events"
	"nftescrow/core/types"
	"nftescrow/crypto"
)

const (
	EventTypeMintCreated   = "token.mint.created"
	EventTypeAccountOpened = "token.account.opened"
	EventTypeAccountClosed = "token.account.closed"
	EventTypeMinted        = "token.minted"
	EventTypeTransfer      = "token.transfer"
)

const maxNonFungibleSupply = 1

type ledgerState interface {
	TokenMintGet(addr [20]byte) (*Mint, bool, error)
	TokenMintPut(*Mint) error
	TokenAccountGet(addr [20]byte) (*Account, bool, error)
	TokenAccountPut(*Account) error
	TokenAccountDelete(addr [20]byte) error
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// Ledger holds balances in named accounts and exposes atomic transfer and mint
// primitives. Every method either applies fully or returns an error before
// writing anything.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger creates a ledger over state with a no-op emitter.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(eventType string, attrs map[string]string) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(ledgerEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

// CreateMint registers a new asset type controlled by authority.
func (l *Ledger) CreateMint(authority [20]byte, symbol string, decimals uint8, nonFungible bool) (*Mint, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("token: mint symbol must not be empty")
	}
	if nonFungible {
		decimals = 0
	}
	addr := MintAddress(authority, normalized)
	if _, ok, err := l.state.TokenMintGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrMintExists
	}
	mint := &Mint{
		Address:     addr,
		Authority:   authority,
		Symbol:      normalized,
		Decimals:    decimals,
		NonFungible: nonFungible,
		Supply:      big.NewInt(0),
	}
	if err := l.state.TokenMintPut(mint); err != nil {
		return nil, err
	}
	l.emit(EventTypeMintCreated, map[string]string{
		"mint":        crypto.FormatRaw(addr),
		"authority":   crypto.FormatRaw(authority),
		"symbol":      normalized,
		"decimals":    fmt.Sprintf("%d", decimals),
		"nonFungible": fmt.Sprintf("%t", nonFungible),
	})
	return mint.Clone(), nil
}

// Mint returns the mint registered at addr.
func (l *Ledger) Mint(addr [20]byte) (*Mint, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	mint, ok, err := l.state.TokenMintGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMintNotFound
	}
	return mint, nil
}

// Account returns the holding account at addr.
func (l *Ledger) Account(addr [20]byte) (*Account, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	acc, ok, err := l.state.TokenAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// BalanceOf returns the balance held at addr. Unknown accounts hold zero.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	acc, ok, err := l.state.TokenAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return cloneBigInt(acc.Balance), nil
}

// EnsureHoldingAccount opens the canonical holding account of owner for mint
// when it does not exist yet and returns it.
func (l *Ledger) EnsureHoldingAccount(owner, mint [20]byte) (*Account, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	addr := HoldingAddress(owner, mint)
	if acc, ok, err := l.state.TokenAccountGet(addr); err != nil {
		return nil, err
	} else if ok {
		return acc, nil
	}
	return l.OpenAccount(addr, owner, mint)
}

// OpenAccount creates an empty account at an explicit address.
func (l *Ledger) OpenAccount(addr, owner, mint [20]byte) (*Account, error) {
	return l.openAccount(addr, owner, mint, false)
}

// OpenCustodyAccount creates an empty custody account at addr held by the
// program address owner.
func (l *Ledger) OpenCustodyAccount(addr, owner, mint [20]byte) (*Account, error) {
	return l.openAccount(addr, owner, mint, true)
}

func (l *Ledger) openAccount(addr, owner, mint [20]byte, custody bool) (*Account, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if _, err := l.Mint(mint); err != nil {
		return nil, err
	}
	if _, ok, err := l.state.TokenAccountGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAccountExists
	}
	acc := &Account{Address: addr, Owner: owner, Mint: mint, Balance: big.NewInt(0), Custody: custody}
	if err := l.state.TokenAccountPut(acc); err != nil {
		return nil, err
	}
	l.emit(EventTypeAccountOpened, map[string]string{
		"account": crypto.FormatRaw(addr),
		"owner":   crypto.FormatRaw(owner),
		"mint":    crypto.FormatRaw(mint),
	})
	return acc.Clone(), nil
}

// MintTo issues amount new units of mint into the holding account to. Only the
// mint authority may issue.
func (l *Ledger) MintTo(mintAddr, authority, to [20]byte, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	mint, err := l.Mint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Authority != authority {
		return ErrUnauthorized
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if dst.Mint != mintAddr {
		return ErrMintMismatch
	}
	if dst.Custody {
		return ErrCustodyAccount
	}
	supply, err := toU256(mint.Supply)
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amt)
	if overflow {
		return ErrOverflow
	}
	if mint.NonFungible && newSupply.GtUint64(maxNonFungibleSupply) {
		return ErrSupplyCapped
	}
	balance, err := toU256(dst.Balance)
	if err != nil {
		return err
	}
	newBalance, overflow := new(uint256.Int).AddOverflow(balance, amt)
	if overflow {
		return ErrOverflow
	}
	mint.Supply = newSupply.ToBig()
	dst.Balance = newBalance.ToBig()
	if err := l.state.TokenMintPut(mint); err != nil {
		return err
	}
	if err := l.state.TokenAccountPut(dst); err != nil {
		return err
	}
	l.emit(EventTypeMinted, map[string]string{
		"mint":   crypto.FormatRaw(mintAddr),
		"to":     crypto.FormatRaw(to),
		"amount": amt.Dec(),
	})
	return nil
}

// Transfer moves amount from one holding account to another of the same mint.
// authority must own the source account. Custody accounts cannot be credited
// this way.
func (l *Ledger) Transfer(from, to, authority [20]byte, amount *big.Int) error {
	return l.transfer(from, to, authority, amount, false)
}

// DepositToCustody moves amount from a holding account into the custody
// account to. authority must own the source account.
func (l *Ledger) DepositToCustody(from, to, authority [20]byte, amount *big.Int) error {
	return l.transfer(from, to, authority, amount, true)
}

func (l *Ledger) transfer(from, to, authority [20]byte, amount *big.Int, intoCustody bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("token: transfer source and destination are the same account")
	}
	src, err := l.Account(from)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dst, err := l.Account(to)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if src.Owner != authority {
		return ErrUnauthorized
	}
	if dst.Custody != intoCustody {
		return ErrCustodyAccount
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	srcBal, err := toU256(src.Balance)
	if err != nil {
		return err
	}
	dstBal, err := toU256(dst.Balance)
	if err != nil {
		return err
	}
	if srcBal.Lt(amt) {
		return ErrInsufficientFunds
	}
	newDst, overflow := new(uint256.Int).AddOverflow(dstBal, amt)
	if overflow {
		return ErrOverflow
	}
	src.Balance = new(uint256.Int).Sub(srcBal, amt).ToBig()
	dst.Balance = newDst.ToBig()
	if err := l.state.TokenAccountPut(src); err != nil {
		return err
	}
	if err := l.state.TokenAccountPut(dst); err != nil {
		return err
	}
	l.emit(EventTypeTransfer, map[string]string{
		"from":   crypto.FormatRaw(from),
		"to":     crypto.FormatRaw(to),
		"mint":   crypto.FormatRaw(src.Mint),
		"amount": amt.Dec(),
	})
	return nil
}

// CloseAccount deallocates an empty account. authority must own it.
func (l *Ledger) CloseAccount(addr, authority [20]byte) error {
	acc, err := l.Account(addr)
	if err != nil {
		return err
	}
	if acc.Owner != authority {
		return ErrUnauthorized
	}
	if acc.Balance != nil && acc.Balance.Sign() != 0 {
		return ErrNonZeroBalance
	}
	if err := l.state.TokenAccountDelete(addr); err != nil {
		return err
	}
	l.emit(EventTypeAccountClosed, map[string]string{
		"account": crypto.FormatRaw(addr),
		"owner":   crypto.FormatRaw(acc.Owner),
	})
	return nil
}

func positiveAmount(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return toU256(v)
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("token: negative balance")
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
