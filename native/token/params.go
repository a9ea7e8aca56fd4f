package token

import "math/big"

// CreateMintParams registers a mint whose authority is the instruction signer.
type CreateMintParams struct {
	Symbol      string
	Decimals    uint8
	NonFungible bool
}

// CreateHoldingAccountParams opens the signer's holding account for Mint.
type CreateHoldingAccountParams struct {
	Mint [20]byte
}

// MintToParams issues Amount units of Mint into the account To.
type MintToParams struct {
	Mint   [20]byte
	To     [20]byte
	Amount *big.Int
}

// TransferParams moves Amount from From to To. The signer must own From.
type TransferParams struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}
