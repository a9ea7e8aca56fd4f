package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"nftescrow/core/events"
	"nftescrow/core/types"
	"nftescrow/native/token"
)

type mockState struct {
	mints     map[[20]byte]*token.Mint
	accounts  map[[20]byte]*token.Account
	orders    map[[20]byte]*Order
	vaults    map[[20]byte]*Vault
	sequences map[[20]byte]uint64
}

func newMockState() *mockState {
	return &mockState{
		mints:     make(map[[20]byte]*token.Mint),
		accounts:  make(map[[20]byte]*token.Account),
		orders:    make(map[[20]byte]*Order),
		vaults:    make(map[[20]byte]*Vault),
		sequences: make(map[[20]byte]uint64),
	}
}

func (m *mockState) TokenMintGet(addr [20]byte) (*token.Mint, bool, error) {
	mint, ok := m.mints[addr]
	if !ok {
		return nil, false, nil
	}
	return mint.Clone(), true, nil
}

func (m *mockState) TokenMintPut(mint *token.Mint) error {
	m.mints[mint.Address] = mint.Clone()
	return nil
}

func (m *mockState) TokenAccountGet(addr [20]byte) (*token.Account, bool, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, false, nil
	}
	return acc.Clone(), true, nil
}

func (m *mockState) TokenAccountPut(acc *token.Account) error {
	m.accounts[acc.Address] = acc.Clone()
	return nil
}

func (m *mockState) TokenAccountDelete(addr [20]byte) error {
	delete(m.accounts, addr)
	return nil
}

func (m *mockState) EscrowOrderGet(addr [20]byte) (*Order, bool, error) {
	order, ok := m.orders[addr]
	if !ok {
		return nil, false, nil
	}
	return order.Clone(), true, nil
}

func (m *mockState) EscrowOrderPut(order *Order) error {
	m.orders[order.Address] = order.Clone()
	return nil
}

func (m *mockState) EscrowOrderDelete(addr [20]byte) error {
	delete(m.orders, addr)
	return nil
}

func (m *mockState) EscrowSequenceGet(buyer [20]byte) (uint64, error) {
	return m.sequences[buyer], nil
}

func (m *mockState) EscrowSequencePut(buyer [20]byte, seq uint64) error {
	m.sequences[buyer] = seq
	return nil
}

func (m *mockState) EscrowVaultGet(addr [20]byte) (*Vault, bool, error) {
	vault, ok := m.vaults[addr]
	if !ok {
		return nil, false, nil
	}
	return vault.Clone(), true, nil
}

func (m *mockState) EscrowVaultPut(vault *Vault) error {
	m.vaults[vault.Address] = vault.Clone()
	return nil
}

type captureEmitter struct {
	events []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	if withEvent, ok := evt.(interface{ Event() *types.Event }); ok {
		c.events = append(c.events, withEvent.Event())
	}
}

func (c *captureEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Type)
	}
	return out
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const testNow = int64(1_700_000_000)

type fixture struct {
	t         *testing.T
	state     *mockState
	ledger    *token.Ledger
	emitter   *captureEmitter
	now       int64
	authority [20]byte
	mint      *token.Mint
	nft       *token.Mint
	buyer     [20]byte
	seller    [20]byte
	buyerNft  [20]byte
	sellerNft [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		state:     newMockState(),
		emitter:   &captureEmitter{},
		now:       testNow,
		authority: newTestAddress(0xA0),
		buyer:     newTestAddress(0x01),
		seller:    newTestAddress(0x02),
	}
	f.ledger = token.NewLedger(f.state)
	var err error
	if f.mint, err = f.ledger.CreateMint(f.authority, "USDC", 6, false); err != nil {
		t.Fatalf("create mint: %v", err)
	}
	if f.nft, err = f.ledger.CreateMint(f.authority, "DEED-7", 0, true); err != nil {
		t.Fatalf("create nft: %v", err)
	}
	f.credit(f.buyer, 1_000)
	buyerNft, err := f.ledger.EnsureHoldingAccount(f.buyer, f.nft.Address)
	if err != nil {
		t.Fatalf("buyer nft account: %v", err)
	}
	f.buyerNft = buyerNft.Address
	sellerNft, err := f.ledger.EnsureHoldingAccount(f.seller, f.nft.Address)
	if err != nil {
		t.Fatalf("seller nft account: %v", err)
	}
	f.sellerNft = sellerNft.Address
	if err := f.ledger.MintTo(f.nft.Address, f.authority, f.sellerNft, big.NewInt(1)); err != nil {
		t.Fatalf("mint nft: %v", err)
	}
	return f
}

// engine returns a fresh engine, i.e. a new batch.
func (f *fixture) engine() *Engine {
	engine := NewEngine()
	engine.SetState(f.state)
	engine.SetLedger(f.ledger)
	engine.SetEmitter(f.emitter)
	engine.SetNowFunc(func() int64 { return f.now })
	return engine
}

func (f *fixture) credit(owner [20]byte, amount int64) {
	f.t.Helper()
	acc, err := f.ledger.EnsureHoldingAccount(owner, f.mint.Address)
	if err != nil {
		f.t.Fatalf("holding account: %v", err)
	}
	if err := f.ledger.MintTo(f.mint.Address, f.authority, acc.Address, big.NewInt(amount)); err != nil {
		f.t.Fatalf("mint to: %v", err)
	}
}

func (f *fixture) balance(owner [20]byte) int64 {
	f.t.Helper()
	bal, err := f.ledger.BalanceOf(token.HoldingAddress(owner, f.mint.Address))
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) nftRequest(amount int64) CreateOrderRequest {
	return CreateOrderRequest{
		Mint:            f.mint.Address,
		Amount:          big.NewInt(amount),
		Expiration:      f.now + 3600,
		NftMint:         f.nft.Address,
		BuyerNftAccount: f.buyerNft,
	}
}

func (f *fixture) evidence() SellerEvidence {
	return SellerEvidence{
		Seller:               f.seller,
		SellerHoldingAccount: f.sellerNft,
		BuyerHoldingAccount:  f.buyerNft,
		NftMint:              f.nft.Address,
	}
}

func (f *fixture) fundedOrder(amount int64) *Order {
	f.t.Helper()
	engine := f.engine()
	if _, err := engine.CreateOrder(f.buyer, f.nftRequest(amount)); err != nil {
		f.t.Fatalf("create order: %v", err)
	}
	order, err := engine.BuyerPayment(f.buyer, f.buyer)
	if err != nil {
		f.t.Fatalf("buyer payment: %v", err)
	}
	return order
}

func (f *fixture) vaultBalance(order *Order) int64 {
	f.t.Helper()
	bal, err := f.ledger.BalanceOf(order.EscrowVault)
	if err != nil {
		f.t.Fatalf("vault balance: %v", err)
	}
	return bal.Int64()
}

func TestHappyPathReleasesToSeller(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	created, err := engine.CreateOrder(f.buyer, f.nftRequest(100))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.Status != OrderCreated || created.Address != DeriveOrderAddress(f.buyer) {
		t.Fatalf("unexpected created order: %+v", created)
	}
	if created.EscrowVault != ([20]byte{}) {
		t.Fatalf("vault must not exist before funding")
	}
	funded, err := engine.BuyerPayment(f.buyer, f.buyer)
	if err != nil {
		t.Fatalf("buyer payment: %v", err)
	}
	if funded.Status != OrderFunded || f.vaultBalance(funded) != 100 || f.balance(f.buyer) != 900 {
		t.Fatalf("unexpected funded state: status=%s vault=%d buyer=%d", funded.Status, f.vaultBalance(funded), f.balance(f.buyer))
	}

	batch := f.engine()
	if _, err := batch.SellerConfirmation(f.buyer, f.evidence()); err != nil {
		t.Fatalf("seller confirmation: %v", err)
	}
	if got := len(batch.PendingConfirmations()); got != 1 {
		t.Fatalf("expected one pending confirmation, got %d", got)
	}
	released, err := batch.EscrowRelease(f.buyer)
	if err != nil {
		t.Fatalf("escrow release: %v", err)
	}
	if released.Status != OrderSuccess || released.Seller != f.seller {
		t.Fatalf("unexpected released order: %+v", released)
	}
	if len(batch.PendingConfirmations()) != 0 {
		t.Fatalf("confirmation should be consumed by release")
	}
	if f.balance(f.seller) != 100 || f.vaultBalance(released) != 0 {
		t.Fatalf("funds not released: seller=%d vault=%d", f.balance(f.seller), f.vaultBalance(released))
	}
	if vault := f.state.vaults[released.EscrowVault]; vault == nil || !vault.Closed {
		t.Fatalf("vault should be closed after release")
	}

	want := []string{EventTypeOrderCreated, EventTypeOrderFunded, EventTypeOrderConfirmed, EventTypeOrderReleased}
	got := f.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want %s got %s", i, want[i], got[i])
		}
	}

	if _, err := f.engine().EscrowRelease(f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("second release: expected ErrWrongStatus, got %v", err)
	}
	if f.balance(f.seller) != 100 {
		t.Fatalf("funds moved twice")
	}
}

func TestPlainIdentityRequiresBoundSeller(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	req := CreateOrderRequest{Mint: f.mint.Address, Amount: big.NewInt(50), Expiration: f.now + 600}
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument without seller, got %v", err)
	}
	req.Seller = f.seller
	if _, err := engine.CreateOrder(f.buyer, req); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); err != nil {
		t.Fatalf("buyer payment: %v", err)
	}
	intruder := newTestAddress(0x66)
	if _, err := engine.SellerConfirmation(f.buyer, SellerEvidence{Seller: intruder}); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
	if _, err := engine.SellerConfirmation(f.buyer, SellerEvidence{Seller: f.seller}); err != nil {
		t.Fatalf("seller confirmation: %v", err)
	}
	if _, err := engine.EscrowRelease(f.buyer); err != nil {
		t.Fatalf("release: %v", err)
	}
	if f.balance(f.seller) != 50 {
		t.Fatalf("expected seller to receive 50, got %d", f.balance(f.seller))
	}
}

func TestBuyerPaymentInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	if _, err := engine.CreateOrder(f.buyer, f.nftRequest(5_000)); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	order, err := engine.Order(f.buyer)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != OrderCreated || order.EscrowVault != ([20]byte{}) {
		t.Fatalf("failed payment must leave order untouched: %+v", order)
	}
	if len(f.state.vaults) != 0 {
		t.Fatalf("failed payment must not open a vault")
	}
	if f.balance(f.buyer) != 1_000 {
		t.Fatalf("buyer balance changed: %d", f.balance(f.buyer))
	}
}

func TestBuyerPaymentGuards(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := engine.CreateOrder(f.buyer, f.nftRequest(10)); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := engine.BuyerPayment(f.buyer, f.seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	f.now += 3600
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	f.now -= 3600
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); err != nil {
		t.Fatalf("buyer payment: %v", err)
	}
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("expected ErrWrongStatus, got %v", err)
	}
}

func TestSellerConfirmationRejectsWrongNftAccount(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)

	// The intruder holds a different NFT of its own.
	intruder := newTestAddress(0x66)
	other, err := f.ledger.CreateMint(f.authority, "DEED-8", 0, true)
	if err != nil {
		t.Fatalf("create nft: %v", err)
	}
	wrong, err := f.ledger.EnsureHoldingAccount(intruder, other.Address)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if err := f.ledger.MintTo(other.Address, f.authority, wrong.Address, big.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	cases := map[string]SellerEvidence{
		"wrong mint account":  {Seller: intruder, SellerHoldingAccount: wrong.Address, BuyerHoldingAccount: f.buyerNft},
		"not the owner":       {Seller: intruder, SellerHoldingAccount: f.sellerNft, BuyerHoldingAccount: f.buyerNft},
		"missing account":     {Seller: f.seller, SellerHoldingAccount: newTestAddress(0x99), BuyerHoldingAccount: f.buyerNft},
		"wrong buyer account": {Seller: f.seller, SellerHoldingAccount: f.sellerNft, BuyerHoldingAccount: newTestAddress(0x98)},
		"wrong nft mint":      {Seller: f.seller, SellerHoldingAccount: f.sellerNft, BuyerHoldingAccount: f.buyerNft, NftMint: other.Address},
	}
	for name, ev := range cases {
		engine := f.engine()
		if _, err := engine.SellerConfirmation(f.buyer, ev); !errors.Is(err, ErrAuthorizationFailed) {
			t.Fatalf("%s: expected ErrAuthorizationFailed, got %v", name, err)
		}
		if len(engine.PendingConfirmations()) != 0 {
			t.Fatalf("%s: failed proof must not record a confirmation", name)
		}
	}
	stored, err := f.engine().Order(f.buyer)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if stored.Status != OrderFunded || stored.Confirmed || stored.HasSeller() {
		t.Fatalf("order mutated by failed confirmation: %+v", stored)
	}
	if f.vaultBalance(order) != 100 {
		t.Fatalf("vault balance changed")
	}
}

func TestSellerConfirmationRequiresExactlyOneUnit(t *testing.T) {
	f := newFixture(t)
	f.fundedOrder(100)
	// Move the NFT away so the seller account holds zero.
	sink, err := f.ledger.EnsureHoldingAccount(newTestAddress(0x44), f.nft.Address)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if err := f.ledger.Transfer(f.sellerNft, sink.Address, f.seller, big.NewInt(1)); err != nil {
		t.Fatalf("transfer nft: %v", err)
	}
	if _, err := f.engine().SellerConfirmation(f.buyer, f.evidence()); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
}

func TestBuyerCannotConfirmAsSeller(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	// Hand the deed to the buyer so the possession check alone would pass.
	if err := f.ledger.Transfer(f.sellerNft, f.buyerNft, f.seller, big.NewInt(1)); err != nil {
		t.Fatalf("transfer nft: %v", err)
	}
	engine := f.engine()
	ev := SellerEvidence{Seller: f.buyer, SellerHoldingAccount: f.buyerNft, BuyerHoldingAccount: f.buyerNft}
	if _, err := engine.SellerConfirmation(f.buyer, ev); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
	if _, err := engine.EscrowRelease(f.buyer); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if f.vaultBalance(order) != 100 {
		t.Fatalf("vault balance changed")
	}
}

func TestReleaseWithoutConfirmationInBatchFails(t *testing.T) {
	f := newFixture(t)
	f.fundedOrder(100)
	if _, err := f.engine().EscrowRelease(f.buyer); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}

	// A confirmation left behind by another batch is not enough.
	first := f.engine()
	if _, err := first.SellerConfirmation(f.buyer, f.evidence()); err != nil {
		t.Fatalf("seller confirmation: %v", err)
	}
	if _, err := f.engine().EscrowRelease(f.buyer); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed from a different batch, got %v", err)
	}
	if f.balance(f.seller) != 0 {
		t.Fatalf("seller paid without a same-batch confirmation")
	}
}

func TestSellerConfirmationAfterExpiration(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	f.now = order.Expiration
	if _, err := f.engine().SellerConfirmation(f.buyer, f.evidence()); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestOrderCancellationRefundsBuyer(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	if _, err := engine.CreateOrder(f.buyer, f.nftRequest(100)); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := engine.OrderCancellation(f.buyer, f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("cancel before funding: expected ErrWrongStatus, got %v", err)
	}
	funded, err := engine.BuyerPayment(f.buyer, f.buyer)
	if err != nil {
		t.Fatalf("buyer payment: %v", err)
	}
	if _, err := engine.OrderCancellation(f.buyer, f.seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	cancelled, err := engine.OrderCancellation(f.buyer, f.buyer)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != OrderCancelled || f.balance(f.buyer) != 1_000 || f.vaultBalance(funded) != 0 {
		t.Fatalf("unexpected cancel result: status=%s buyer=%d", cancelled.Status, f.balance(f.buyer))
	}
	if _, err := f.engine().EscrowRelease(f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("release after cancel: expected ErrWrongStatus, got %v", err)
	}
	if _, err := f.engine().Expire(f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("expire after cancel: expected ErrWrongStatus, got %v", err)
	}
}

func TestOrderCancellationAfterConfirmationFails(t *testing.T) {
	f := newFixture(t)
	f.fundedOrder(100)
	engine := f.engine()
	if _, err := engine.SellerConfirmation(f.buyer, f.evidence()); err != nil {
		t.Fatalf("seller confirmation: %v", err)
	}
	if _, err := engine.OrderCancellation(f.buyer, f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("expected ErrWrongStatus, got %v", err)
	}
}

func TestExpireRefundsAfterDeadline(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	if _, err := f.engine().Expire(f.buyer); !errors.Is(err, ErrNotYetExpired) {
		t.Fatalf("expected ErrNotYetExpired, got %v", err)
	}
	f.now = order.Expiration
	expired, err := f.engine().Expire(f.buyer)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.Status != OrderExpired || f.balance(f.buyer) != 1_000 || f.vaultBalance(order) != 0 {
		t.Fatalf("unexpected expire result: %+v buyer=%d", expired, f.balance(f.buyer))
	}
	if _, err := f.engine().Expire(f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("second expire: expected ErrWrongStatus, got %v", err)
	}
}

func TestExpireLapsesUnfundedOrder(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	created, err := engine.CreateOrder(f.buyer, f.nftRequest(100))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	f.now = created.Expiration + 1
	expired, err := engine.Expire(f.buyer)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.Status != OrderExpired || f.balance(f.buyer) != 1_000 {
		t.Fatalf("unexpected lapse result: %+v", expired)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()

	req := f.nftRequest(0)
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	req = f.nftRequest(10)
	req.Expiration = f.now
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration, got %v", err)
	}
	req.Expiration = f.now + 30
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected too-soon expiration to be an invalid argument, got %v", err)
	}
	if err := engine.SetParams(Params{MinExpirationLead: 60, MaxExpirationLead: 600}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	req.Expiration = f.now + 601
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected too-far expiration to fail, got %v", err)
	}
	if err := engine.SetParams(DefaultParams()); err != nil {
		t.Fatalf("reset params: %v", err)
	}

	req = f.nftRequest(10)
	req.Mint = newTestAddress(0xEE)
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected unknown mint to fail, got %v", err)
	}
	req = f.nftRequest(10)
	req.NftMint = f.mint.Address
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected fungible nft mint to fail, got %v", err)
	}
	req = f.nftRequest(10)
	req.BuyerNftAccount = [20]byte{}
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected missing buyer nft account to fail, got %v", err)
	}
	req = f.nftRequest(10)
	req.BuyerNftAccount = f.sellerNft
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected foreign buyer nft account to fail, got %v", err)
	}
	req = f.nftRequest(10)
	req.Seller = f.buyer
	if _, err := engine.CreateOrder(f.buyer, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected self-dealing to fail, got %v", err)
	}
	if len(f.state.orders) != 0 || len(f.emitter.events) != 0 {
		t.Fatalf("rejected creations must not write or emit")
	}
}

func TestCreateOrderUniquenessAndClose(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	first, err := engine.CreateOrder(f.buyer, f.nftRequest(10))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := engine.CreateOrder(f.buyer, f.nftRequest(20)); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := engine.CloseOrder(f.buyer, f.buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("close live order: expected ErrWrongStatus, got %v", err)
	}
	if _, err := engine.BuyerPayment(f.buyer, f.buyer); err != nil {
		t.Fatalf("buyer payment: %v", err)
	}
	if _, err := engine.OrderCancellation(f.buyer, f.buyer); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := engine.CloseOrder(f.buyer, f.seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.CloseOrder(f.buyer, f.buyer); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.Order(f.buyer); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}
	second, err := engine.CreateOrder(f.buyer, f.nftRequest(20))
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if second.Sequence != first.Sequence+1 {
		t.Fatalf("expected sequence to advance, got %d", second.Sequence)
	}
	funded, err := engine.BuyerPayment(f.buyer, f.buyer)
	if err != nil {
		t.Fatalf("fund second order: %v", err)
	}
	if funded.EscrowVault == VaultAddress(first.Address, first.Sequence) {
		t.Fatalf("vault address reused across orders")
	}
}

func TestUnbindRejectsNonEmptyVault(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	// Force a terminal status while funds remain to exercise the guard.
	stored := f.state.orders[order.Address]
	stored.Status = OrderExpired
	registry := NewRegistry(f.state, f.ledger)
	if err := registry.Unbind(order.Address); !errors.Is(err, ErrVaultNotEmpty) {
		t.Fatalf("expected ErrVaultNotEmpty, got %v", err)
	}
	if err := registry.Unbind(newTestAddress(0x55)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCustodyReleaseGuards(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	custody := NewCustody(f.state, f.ledger)
	to := token.HoldingAddress(f.buyer, f.mint.Address)
	if err := custody.Release(newTestAddress(0x12), to, big.NewInt(100)); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound, got %v", err)
	}
	if err := custody.Release(order.EscrowVault, to, big.NewInt(101)); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if err := custody.Release(order.EscrowVault, to, big.NewInt(100)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := custody.Release(order.EscrowVault, to, big.NewInt(100)); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	if err := custody.Deposit(order.EscrowVault, order, to, f.buyer, big.NewInt(100)); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed on deposit, got %v", err)
	}
}

func TestCustodyReleasePaysFullBalance(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	third := newTestAddress(0x77)
	f.credit(third, 5)
	if err := f.ledger.Transfer(token.HoldingAddress(third, f.mint.Address), order.EscrowVault, third, big.NewInt(5)); !errors.Is(err, token.ErrCustodyAccount) {
		t.Fatalf("expected ErrCustodyAccount, got %v", err)
	}
	// Only program code can top a vault up; release must still drain all of it.
	if err := f.ledger.DepositToCustody(token.HoldingAddress(third, f.mint.Address), order.EscrowVault, third, big.NewInt(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.vaultBalance(order); got != 105 {
		t.Fatalf("expected vault at 105, got %d", got)
	}
	before := f.balance(f.buyer)
	if _, err := f.engine().OrderCancellation(f.buyer, f.buyer); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.balance(f.buyer) - before; got != 105 {
		t.Fatalf("expected buyer refunded 105, got %d", got)
	}
	if got := f.vaultBalance(order); got != 0 {
		t.Fatalf("expected empty vault, got %d", got)
	}
}

func TestEngineRequiresStateAndLedger(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.CreateOrder(newTestAddress(1), CreateOrderRequest{}); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(newMockState())
	if _, err := engine.Expire(newTestAddress(1)); !errors.Is(err, errNilLedger) {
		t.Fatalf("expected errNilLedger, got %v", err)
	}
}

func TestOrderEventsCarryAttributes(t *testing.T) {
	f := newFixture(t)
	order := f.fundedOrder(100)
	evt := NewOrderReleasedEvent(order, newTestAddress(0x31), 42)
	if evt.Type != EventTypeOrderReleased {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	for _, key := range []string{"order", "buyer", "mint", "amount", "vault", "recipient", "timestamp", "nftMint"} {
		if evt.Attributes[key] == "" {
			t.Fatalf("missing attribute %q in %+v", key, evt.Attributes)
		}
	}
	if evt.Attributes["amount"] != "100" || evt.Attributes["timestamp"] != "42" {
		t.Fatalf("unexpected attributes: %+v", evt.Attributes)
	}
	if _, ok := NewOrderCreatedEvent(nil, 1).Attributes["order"]; ok {
		t.Fatalf("nil order should produce an empty payload")
	}
}
