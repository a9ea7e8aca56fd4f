package escrow

import (
	"strconv"

	"nftescrow/core/types"
	"nftescrow/crypto"
)

const (
	EventTypeOrderCreated   = "escrow.order.created"
	EventTypeOrderFunded    = "escrow.order.funded"
	EventTypeOrderCancelled = "escrow.order.cancelled"
	EventTypeOrderRefunded  = "escrow.order.refunded"
	EventTypeOrderConfirmed = "escrow.order.confirmed"
	EventTypeOrderReleased  = "escrow.order.released"
	EventTypeOrderExpired   = "escrow.order.expired"
	EventTypeOrderClosed    = "escrow.order.closed"
)

// NewOrderCreatedEvent returns the canonical payload for a newly created order.
func NewOrderCreatedEvent(o *Order, ts int64) *types.Event {
	return newOrderEvent(EventTypeOrderCreated, o, ts)
}

// NewOrderFundedEvent is emitted once the buyer deposit reaches the vault.
func NewOrderFundedEvent(o *Order, ts int64) *types.Event {
	return newOrderEvent(EventTypeOrderFunded, o, ts)
}

// NewOrderCancelledEvent is emitted when the buyer withdraws a funded order.
func NewOrderCancelledEvent(o *Order, ts int64) *types.Event {
	return newOrderEvent(EventTypeOrderCancelled, o, ts)
}

// NewOrderRefundedEvent records funds returning to the buyer, either by
// cancellation or expiry.
func NewOrderRefundedEvent(o *Order, to [20]byte, ts int64) *types.Event {
	evt := newOrderEvent(EventTypeOrderRefunded, o, ts)
	evt.Attributes["recipient"] = crypto.FormatRaw(to)
	return evt
}

func NewOrderConfirmedEvent(o *Order, ts int64) *types.Event {
	return newOrderEvent(EventTypeOrderConfirmed, o, ts)
}

// NewOrderReleasedEvent records the payout to the seller's holding account.
func NewOrderReleasedEvent(o *Order, to [20]byte, ts int64) *types.Event {
	evt := newOrderEvent(EventTypeOrderReleased, o, ts)
	evt.Attributes["recipient"] = crypto.FormatRaw(to)
	return evt
}

func NewOrderExpiredEvent(o *Order, ts int64) *types.Event {
	return newOrderEvent(EventTypeOrderExpired, o, ts)
}

// NewOrderClosedEvent is emitted when a terminal order record is deallocated.
func NewOrderClosedEvent(o *Order, ts int64) *types.Event {
	return newOrderEvent(EventTypeOrderClosed, o, ts)
}

func newOrderEvent(eventType string, o *Order, ts int64) *types.Event {
	attrs := make(map[string]string)
	attrs["timestamp"] = strconv.FormatInt(ts, 10)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["order"] = crypto.FormatRaw(o.Address)
	attrs["buyer"] = crypto.FormatRaw(o.Buyer)
	attrs["mint"] = crypto.FormatRaw(o.Mint)
	if o.Amount != nil {
		attrs["amount"] = o.Amount.String()
	}
	attrs["status"] = o.Status.String()
	attrs["auth"] = o.Auth.Mode.String()
	attrs["expiration"] = strconv.FormatInt(o.Expiration, 10)
	if o.HasSeller() {
		attrs["seller"] = crypto.FormatRaw(o.Seller)
	}
	if o.EscrowVault != ([20]byte{}) {
		attrs["vault"] = crypto.FormatRaw(o.EscrowVault)
	}
	if o.Auth.Mode == AuthNftBound {
		attrs["nftMint"] = crypto.FormatRaw(o.Auth.NftMint)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
