package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nftescrow/core/clock"
	"nftescrow/core/events"
	"nftescrow/core/genesis"
	"nftescrow/core/state"
	"nftescrow/core/types"
	"nftescrow/crypto"
	"nftescrow/native/escrow"
	"nftescrow/native/token"
	"nftescrow/observability"
	"nftescrow/observability/otel"
	"nftescrow/storage"
)

var (
	// ErrDuplicateTransaction rejects a transaction whose hash already
	// committed.
	ErrDuplicateTransaction = errors.New("core: transaction already committed")
	ErrMissingSignature     = errors.New("core: instruction signer did not sign the transaction")
	ErrUnknownInstruction   = errors.New("core: unknown instruction type")
	ErrMalformedInstruction = errors.New("core: malformed instruction payload")
)

// Processor executes signed transactions. Each transaction is one atomic
// batch: its instructions run in order against a journal over the committed
// database, and the journal plus the buffered events are released only if
// every instruction succeeds.
type Processor struct {
	mu      sync.RWMutex
	db      storage.Database
	clock   clock.Clock
	params  escrow.Params
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.EscrowMetrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the ledger clock. Defaults to a monotonic system clock.
func WithClock(c clock.Clock) Option {
	return func(p *Processor) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithParams sets the escrow tunables.
func WithParams(params escrow.Params) Option {
	return func(p *Processor) { p.params = params }
}

// WithEmitter receives committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(p *Processor) {
		if emitter != nil {
			p.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor creates a processor over db.
func NewProcessor(db storage.Database, opts ...Option) (*Processor, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	p := &Processor{
		db:      db,
		clock:   clock.NewMonotonic(clock.NewSystem()),
		params:  escrow.DefaultParams(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: observability.Escrow(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.params.Validate(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	p.logger = p.logger.With(slog.String("component", "processor"))
	return p, nil
}

// batch is the per-transaction execution context.
type batch struct {
	overlay *state.Overlay
	manager *state.Manager
	ledger  *token.Ledger
	engine  *escrow.Engine
	buffer  *events.Buffer
	now     int64
}

func (p *Processor) newBatch() (*batch, error) {
	b := &batch{
		overlay: state.NewOverlay(p.db),
		buffer:  &events.Buffer{},
		now:     p.clock.Now(),
	}
	b.manager = state.NewManager(b.overlay)
	b.ledger = token.NewLedger(b.manager)
	b.ledger.SetEmitter(b.buffer)
	b.engine = escrow.NewEngine()
	b.engine.SetState(b.manager)
	b.engine.SetLedger(b.ledger)
	b.engine.SetEmitter(b.buffer)
	now := b.now
	b.engine.SetNowFunc(func() int64 { return now })
	if err := b.engine.SetParams(p.params); err != nil {
		return nil, err
	}
	return b, nil
}

// Submit executes tx atomically and returns its receipt. On error nothing
// from tx is visible: no state, no events.
func (p *Processor) Submit(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	start := time.Now()
	ctx, span := otel.Tracer().Start(ctx, "escrow.batch")
	defer span.End()

	receipt, outcome, err := p.submit(ctx, tx)
	p.metrics.RecordBatch(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.logger.Warn("transaction rejected", slog.String("outcome", outcome), slog.Any("error", err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("escrow.events", len(receipt.Events)))
	p.logger.Info("transaction committed",
		slog.String("tx", fmt.Sprintf("%x", receipt.TxHash)),
		slog.Int("instructions", len(tx.Instructions)),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (p *Processor) submit(ctx context.Context, tx *types.Transaction) (*types.Receipt, string, error) {
	if tx == nil || len(tx.Instructions) == 0 {
		return nil, "invalid", fmt.Errorf("core: transaction carries no instructions")
	}
	if err := ctx.Err(); err != nil {
		return nil, "cancelled", err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, "invalid", fmt.Errorf("core: hash transaction: %w", err)
	}
	signers, err := tx.Signers()
	if err != nil {
		return nil, "invalid", fmt.Errorf("core: recover signers: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.newBatch()
	if err != nil {
		return nil, "invalid", err
	}
	seen, err := b.manager.TxSeen(hash)
	if err != nil {
		return nil, "error", err
	}
	if seen {
		return nil, "duplicate", ErrDuplicateTransaction
	}
	for i, in := range tx.Instructions {
		if err := authorize(in, signers); err != nil {
			return nil, "rejected", fmt.Errorf("instruction %d (%s): %w", i, in.Type, err)
		}
		err := p.apply(b, in)
		p.metrics.RecordInstruction(in.Type.String(), err)
		if err != nil {
			return nil, "rejected", fmt.Errorf("instruction %d (%s): %w", i, in.Type, err)
		}
	}
	if pending := b.engine.PendingConfirmations(); len(pending) > 0 {
		return nil, "rejected", fmt.Errorf("order %s: %w", crypto.FormatRaw(pending[0]), escrow.ErrUnreleasedConfirmation)
	}
	if err := b.manager.MarkTx(hash, b.now); err != nil {
		return nil, "error", err
	}
	if err := b.overlay.Commit(); err != nil {
		return nil, "error", fmt.Errorf("core: commit: %w", err)
	}

	receipt := &types.Receipt{TxHash: hash, ExecutedAt: b.now}
	for _, evt := range b.buffer.Events() {
		if withPayload, ok := evt.(interface{ Event() *types.Event }); ok {
			receipt.Events = append(receipt.Events, withPayload.Event())
		}
		observability.Events().Record(evt.EventType())
	}
	b.buffer.FlushTo(p.emitter)
	return receipt, "committed", nil
}

// authorize checks that the instruction's acting account signed tx. Only
// release and expire may run without a signer.
func authorize(in types.Instruction, signers map[[20]byte]struct{}) error {
	if in.Signer == ([20]byte{}) {
		switch in.Type {
		case types.InstrEscrowRelease, types.InstrExpire:
			return nil
		default:
			return ErrMissingSignature
		}
	}
	if _, ok := signers[in.Signer]; !ok {
		return ErrMissingSignature
	}
	return nil
}

func (p *Processor) apply(b *batch, in types.Instruction) error {
	switch in.Type {
	case types.InstrCreateMint:
		var params token.CreateMintParams
		if err := decodeParams(in, &params); err != nil {
			return err
		}
		_, err := b.ledger.CreateMint(in.Signer, params.Symbol, params.Decimals, params.NonFungible)
		return err
	case types.InstrCreateHoldingAccount:
		var params token.CreateHoldingAccountParams
		if err := decodeParams(in, &params); err != nil {
			return err
		}
		_, err := b.ledger.EnsureHoldingAccount(in.Signer, params.Mint)
		return err
	case types.InstrMintTo:
		var params token.MintToParams
		if err := decodeParams(in, &params); err != nil {
			return err
		}
		return b.ledger.MintTo(params.Mint, in.Signer, params.To, params.Amount)
	case types.InstrTransfer:
		var params token.TransferParams
		if err := decodeParams(in, &params); err != nil {
			return err
		}
		return b.ledger.Transfer(params.From, params.To, in.Signer, params.Amount)
	case types.InstrCreateOrder:
		var params escrow.CreateOrderParams
		if err := decodeParams(in, &params); err != nil {
			return err
		}
		req, err := params.Request()
		if err != nil {
			return err
		}
		_, err = b.engine.CreateOrder(in.Signer, req)
		return err
	case types.InstrBuyerPayment:
		ref, err := decodeRef(in)
		if err != nil {
			return err
		}
		_, err = b.engine.BuyerPayment(ref.Buyer, in.Signer)
		return err
	case types.InstrOrderCancellation:
		ref, err := decodeRef(in)
		if err != nil {
			return err
		}
		_, err = b.engine.OrderCancellation(ref.Buyer, in.Signer)
		return err
	case types.InstrSellerConfirmation:
		var params escrow.SellerConfirmationParams
		if err := decodeParams(in, &params); err != nil {
			return err
		}
		_, err := b.engine.SellerConfirmation(params.Buyer, params.Evidence(in.Signer))
		return err
	case types.InstrEscrowRelease:
		ref, err := decodeRef(in)
		if err != nil {
			return err
		}
		_, err = b.engine.EscrowRelease(ref.Buyer)
		return err
	case types.InstrExpire:
		ref, err := decodeRef(in)
		if err != nil {
			return err
		}
		_, err = b.engine.Expire(ref.Buyer)
		return err
	case types.InstrCloseOrder:
		ref, err := decodeRef(in)
		if err != nil {
			return err
		}
		return b.engine.CloseOrder(ref.Buyer, in.Signer)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, in.Type)
	}
}

func decodeParams(in types.Instruction, out interface{}) error {
	if err := in.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInstruction, err)
	}
	return nil
}

func decodeRef(in types.Instruction) (escrow.OrderRef, error) {
	var ref escrow.OrderRef
	err := decodeParams(in, &ref)
	return ref, err
}

// ApplyGenesis seeds mints and allocations in one committed batch. Events are
// forwarded like those of any transaction.
func (p *Processor) ApplyGenesis(spec *genesis.GenesisSpec) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := p.newBatch()
	if err != nil {
		return 0, err
	}
	created, err := genesis.Apply(spec, b.ledger)
	if err != nil {
		return 0, err
	}
	if err := b.overlay.Commit(); err != nil {
		return 0, fmt.Errorf("core: commit genesis: %w", err)
	}
	b.buffer.FlushTo(p.emitter)
	if created > 0 {
		p.logger.Info("genesis applied", slog.Int("mints", created))
	}
	return created, nil
}

func (p *Processor) committed() (*escrow.Engine, *token.Ledger) {
	mgr := state.NewManager(p.db)
	ledger := token.NewLedger(mgr)
	engine := escrow.NewEngine()
	engine.SetState(mgr)
	engine.SetLedger(ledger)
	return engine, ledger
}

// Order returns the committed order of buyer.
func (p *Processor) Order(buyer [20]byte) (*escrow.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	engine, _ := p.committed()
	return engine.Order(buyer)
}

// BalanceOf returns the committed balance of a holding account.
func (p *Processor) BalanceOf(account [20]byte) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ledger := p.committed()
	return ledger.BalanceOf(account)
}

// Account returns the committed holding account at addr.
func (p *Processor) Account(addr [20]byte) (*token.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ledger := p.committed()
	return ledger.Account(addr)
}

// Now reports the ledger clock.
func (p *Processor) Now() int64 { return p.clock.Now() }
