package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"nftescrow/core/events"
	"nftescrow/core/types"
	"nftescrow/native/token"
)

type engineState interface {
	registryState
	vaultState
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// CreateOrderRequest carries the buyer supplied terms of a new order. A zero
// NftMint selects plain identity authorization, which requires Seller.
type CreateOrderRequest struct {
	Mint            [20]byte
	Amount          *big.Int
	Expiration      int64
	Seller          [20]byte
	NftMint         [20]byte
	BuyerNftAccount [20]byte
}

// Engine is the escrow state machine. One engine executes one batch: it
// remembers which orders were confirmed in the batch so a release can only
// consume a confirmation that commits together with it.
type Engine struct {
	state     engineState
	ledger    *token.Ledger
	registry  *Registry
	custody   *Custody
	proof     *Proof
	emitter   events.Emitter
	nowFn     func() int64
	params    Params
	confirmed map[[20]byte]struct{}
}

// NewEngine creates an escrow engine with a no-op emitter and default params.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		params:    DefaultParams(),
		confirmed: make(map[[20]byte]struct{}),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.wire()
}

// SetLedger configures the token ledger that moves funds.
func (e *Engine) SetLedger(ledger *token.Ledger) {
	e.ledger = ledger
	e.wire()
}

func (e *Engine) wire() {
	if e.state == nil {
		e.registry, e.custody = nil, nil
	} else {
		e.registry = NewRegistry(e.state, e.ledger)
		e.custody = NewCustody(e.state, e.ledger)
	}
	e.proof = NewProof(e.ledger)
}

// SetNowFunc overrides the ledger clock. Passing nil restores wall time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetParams replaces the engine tunables.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return invalidArgument(err.Error())
	}
	e.params = p
	return nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// Order returns a copy of buyer's current order.
func (e *Engine) Order(buyer [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.registry.Lookup(DeriveOrderAddress(buyer))
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// PendingConfirmations lists orders confirmed by this engine whose release has
// not run yet. A batch must not commit while any remain.
func (e *Engine) PendingConfirmations() [][20]byte {
	if e == nil || len(e.confirmed) == 0 {
		return nil
	}
	out := make([][20]byte, 0, len(e.confirmed))
	for addr := range e.confirmed {
		out = append(out, addr)
	}
	return out
}

// CreateOrder binds a new order for buyer in status Created.
func (e *Engine) CreateOrder(buyer [20]byte, req CreateOrderRequest) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if buyer == ([20]byte{}) {
		return nil, invalidArgument("buyer required")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if err := e.checkExpiration(now, req.Expiration); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Mint(req.Mint); err != nil {
		if errors.Is(err, token.ErrMintNotFound) {
			return nil, invalidArgument("unknown payment mint")
		}
		return nil, err
	}
	if req.Seller == buyer {
		return nil, invalidArgument("seller must differ from buyer")
	}
	auth, err := e.authorizationFor(buyer, req)
	if err != nil {
		return nil, err
	}
	addr := DeriveOrderAddress(buyer)
	if err := e.registry.CheckFree(addr); err != nil {
		return nil, err
	}
	seq, err := e.registry.NextSequence(buyer)
	if err != nil {
		return nil, err
	}
	order := &Order{
		Address:    addr,
		Buyer:      buyer,
		Seller:     req.Seller,
		Mint:       req.Mint,
		Amount:     new(big.Int).Set(req.Amount),
		Expiration: req.Expiration,
		CreatedAt:  now,
		Status:     OrderCreated,
		Auth:       auth,
		Sequence:   seq,
	}
	if err := e.registry.Bind(order); err != nil {
		return nil, err
	}
	e.emit(NewOrderCreatedEvent(order, now))
	return order.Clone(), nil
}

func (e *Engine) checkExpiration(now, expiration int64) error {
	if expiration <= now {
		return fmt.Errorf("%w: expiration must be in the future", ErrInvalidExpiration)
	}
	lead := expiration - now
	if lead < e.params.MinExpirationLead {
		return fmt.Errorf("%w: expiration too soon", ErrInvalidExpiration)
	}
	if e.params.MaxExpirationLead > 0 && lead > e.params.MaxExpirationLead {
		return fmt.Errorf("%w: expiration too far", ErrInvalidExpiration)
	}
	return nil
}

func (e *Engine) authorizationFor(buyer [20]byte, req CreateOrderRequest) (Authorization, error) {
	if req.NftMint == ([20]byte{}) {
		if req.BuyerNftAccount != ([20]byte{}) {
			return Authorization{}, invalidArgument("buyer nft account without nft mint")
		}
		if req.Seller == ([20]byte{}) {
			return Authorization{}, invalidArgument("plain identity order requires a seller")
		}
		return PlainIdentity(), nil
	}
	nft, err := e.ledger.Mint(req.NftMint)
	if err != nil {
		if errors.Is(err, token.ErrMintNotFound) {
			return Authorization{}, invalidArgument("unknown nft mint")
		}
		return Authorization{}, err
	}
	if !nft.NonFungible {
		return Authorization{}, invalidArgument("nft mint is fungible")
	}
	if req.BuyerNftAccount == ([20]byte{}) {
		return Authorization{}, invalidArgument("missing buyer nft account")
	}
	acc, err := e.ledger.Account(req.BuyerNftAccount)
	if err != nil {
		if errors.Is(err, token.ErrAccountNotFound) {
			return Authorization{}, invalidArgument("missing buyer nft account")
		}
		return Authorization{}, err
	}
	if acc.Owner != buyer {
		return Authorization{}, invalidArgument("invalid nft owner")
	}
	if acc.Mint != req.NftMint {
		return Authorization{}, invalidArgument("invalid nft account")
	}
	return NftBound(req.NftMint, req.BuyerNftAccount), nil
}

// BuyerPayment opens the vault and deposits the order amount from the buyer's
// holding account.
func (e *Engine) BuyerPayment(buyer, caller [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.registry.Lookup(DeriveOrderAddress(buyer))
	if err != nil {
		return nil, err
	}
	if order.Status != OrderCreated {
		return nil, ErrWrongStatus
	}
	if caller != order.Buyer {
		return nil, ErrUnauthorized
	}
	now := e.now()
	if now >= order.Expiration {
		return nil, ErrExpired
	}
	source := token.HoldingAddress(order.Buyer, order.Mint)
	balance, err := e.ledger.BalanceOf(source)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(order.Amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	vault, err := e.custody.OpenVault(order)
	if err != nil {
		return nil, err
	}
	if err := e.custody.Deposit(vault.Address, order, source, order.Buyer, order.Amount); err != nil {
		return nil, err
	}
	order.EscrowVault = vault.Address
	order.Status = OrderFunded
	if err := e.registry.Update(order); err != nil {
		return nil, err
	}
	e.emit(NewOrderFundedEvent(order, now))
	return order.Clone(), nil
}

// OrderCancellation refunds a funded, unconfirmed order to the buyer.
func (e *Engine) OrderCancellation(buyer, caller [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.registry.Lookup(DeriveOrderAddress(buyer))
	if err != nil {
		return nil, err
	}
	if order.Status != OrderFunded || order.Confirmed {
		return nil, ErrWrongStatus
	}
	if caller != order.Buyer {
		return nil, ErrUnauthorized
	}
	now := e.now()
	refundTo, err := e.refund(order)
	if err != nil {
		return nil, err
	}
	order.Status = OrderCancelled
	if err := e.registry.Update(order); err != nil {
		return nil, err
	}
	e.emit(NewOrderRefundedEvent(order, refundTo, now))
	e.emit(NewOrderCancelledEvent(order, now))
	return order.Clone(), nil
}

func (e *Engine) refund(order *Order) ([20]byte, error) {
	holding, err := e.ledger.EnsureHoldingAccount(order.Buyer, order.Mint)
	if err != nil {
		return [20]byte{}, err
	}
	if err := e.custody.Release(order.EscrowVault, holding.Address, order.Amount); err != nil {
		return [20]byte{}, err
	}
	return holding.Address, nil
}

// SellerConfirmation records the seller's approval after a successful proof.
// It moves no funds; EscrowRelease in the same batch completes the trade.
func (e *Engine) SellerConfirmation(buyer [20]byte, ev SellerEvidence) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.registry.Lookup(DeriveOrderAddress(buyer))
	if err != nil {
		return nil, err
	}
	if order.Status != OrderFunded || order.Confirmed {
		return nil, ErrWrongStatus
	}
	now := e.now()
	if now >= order.Expiration {
		return nil, ErrExpired
	}
	if err := e.proof.VerifySellerProof(order, ev); err != nil {
		return nil, err
	}
	order.Seller = ev.Seller
	order.Confirmed = true
	if err := e.registry.Update(order); err != nil {
		return nil, err
	}
	e.confirmed[order.Address] = struct{}{}
	e.emit(NewOrderConfirmedEvent(order, now))
	return order.Clone(), nil
}

// EscrowRelease pays the vault out to the seller's holding account. It only
// consumes a confirmation recorded earlier in the same batch.
func (e *Engine) EscrowRelease(buyer [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.registry.Lookup(DeriveOrderAddress(buyer))
	if err != nil {
		return nil, err
	}
	if order.Status != OrderFunded {
		return nil, ErrWrongStatus
	}
	if _, ok := e.confirmed[order.Address]; !ok || !order.Confirmed {
		return nil, ErrNotConfirmed
	}
	now := e.now()
	payee, err := e.ledger.EnsureHoldingAccount(order.Seller, order.Mint)
	if err != nil {
		return nil, err
	}
	if err := e.custody.Release(order.EscrowVault, payee.Address, order.Amount); err != nil {
		return nil, err
	}
	order.Status = OrderSuccess
	if err := e.registry.Update(order); err != nil {
		return nil, err
	}
	delete(e.confirmed, order.Address)
	e.emit(NewOrderReleasedEvent(order, payee.Address, now))
	return order.Clone(), nil
}

// Expire may be invoked by anyone once the deadline has passed. Funded orders
// are refunded to the buyer; an order that was never funded simply lapses.
func (e *Engine) Expire(buyer [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.registry.Lookup(DeriveOrderAddress(buyer))
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() || order.Confirmed {
		return nil, ErrWrongStatus
	}
	now := e.now()
	if now < order.Expiration {
		return nil, ErrNotYetExpired
	}
	if order.Status == OrderFunded {
		refundTo, err := e.refund(order)
		if err != nil {
			return nil, err
		}
		e.emit(NewOrderRefundedEvent(order, refundTo, now))
	}
	order.Status = OrderExpired
	if err := e.registry.Update(order); err != nil {
		return nil, err
	}
	e.emit(NewOrderExpiredEvent(order, now))
	return order.Clone(), nil
}

// CloseOrder deallocates buyer's terminal order so a new one can be created
// without carrying the old record.
func (e *Engine) CloseOrder(buyer, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	addr := DeriveOrderAddress(buyer)
	order, err := e.registry.Lookup(addr)
	if err != nil {
		return err
	}
	if caller != order.Buyer {
		return ErrUnauthorized
	}
	if err := e.registry.Unbind(addr); err != nil {
		return err
	}
	e.emit(NewOrderClosedEvent(order, e.now()))
	return nil
}
