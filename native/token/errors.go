package token

import "errors"

var (
	errNilState = errors.New("token ledger: state not configured")

	// ErrInsufficientFunds is returned when a debit exceeds the source balance.
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrAccountNotFound   = errors.New("token: holding account not found")
	ErrAccountExists     = errors.New("token: account already exists")
	ErrMintNotFound      = errors.New("token: mint not found")
	ErrMintExists        = errors.New("token: mint already exists")
	ErrMintMismatch      = errors.New("token: accounts hold different mints")
	ErrUnauthorized      = errors.New("token: signer does not control the account")
	ErrInvalidAmount     = errors.New("token: amount must be positive")
	ErrSupplyCapped      = errors.New("token: non-fungible supply is capped at one")
	ErrNonZeroBalance    = errors.New("token: account still holds a balance")
	ErrOverflow          = errors.New("token: balance overflow")
	ErrCustodyAccount    = errors.New("token: custody accounts only accept program deposits")
)
