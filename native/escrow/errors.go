package escrow

import (
	"errors"
	"fmt"

	"nftescrow/native/token"
)

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: token ledger not configured")
)

// Error taxonomy of the escrow program. Every failure is detected before any
// write and leaves the order in its prior state; callers match with errors.Is.
var (
	ErrInvalidArgument     = errors.New("escrow: invalid argument")
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be greater than zero", ErrInvalidArgument)
	ErrInvalidExpiration   = fmt.Errorf("%w: expiration outside the allowed window", ErrInvalidArgument)
	ErrUnauthorized        = errors.New("escrow: unauthorized caller")
	ErrWrongStatus         = errors.New("escrow: operation not allowed in current order status")
	ErrExpired             = errors.New("escrow: order expired")
	ErrNotYetExpired       = errors.New("escrow: order has not reached its expiration")
	ErrAuthorizationFailed = errors.New("escrow: seller authorization failed")
	ErrAlreadyExists       = errors.New("escrow: buyer already has a live order")
	ErrNotFound            = errors.New("escrow: order not found")
	ErrNotConfirmed        = errors.New("escrow: release requires a seller confirmation in the same batch")
	ErrAmountMismatch      = errors.New("escrow: amount does not match the order")
	ErrVaultNotFound       = errors.New("escrow: vault not found")
	ErrAlreadyClosed       = errors.New("escrow: vault already closed")
	ErrVaultNotEmpty       = errors.New("escrow: vault still holds funds")

	// ErrUnreleasedConfirmation rejects a batch that confirms an order without
	// releasing it.
	ErrUnreleasedConfirmation = errors.New("escrow: confirmation must be released in the same batch")

	// ErrInsufficientFunds is the ledger's own error so both layers match.
	ErrInsufficientFunds = token.ErrInsufficientFunds
)

func authFailure(reason string) error {
	return fmt.Errorf("%w: %s", ErrAuthorizationFailed, reason)
}

func invalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}
