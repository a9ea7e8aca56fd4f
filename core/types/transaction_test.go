package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nftescrow/crypto"
)

type refParams struct {
	Buyer [20]byte
}

func TestTransactionEncodeDecodeKeepsSigners(t *testing.T) {
	buyer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	seller, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyerAddr := buyer.PubKey().Address().Raw()
	sellerAddr := seller.PubKey().Address().Raw()

	pay, err := NewInstruction(InstrBuyerPayment, buyerAddr, refParams{Buyer: buyerAddr})
	require.NoError(t, err)
	tx := &Transaction{Nonce: 9, Instructions: []Instruction{pay}}
	require.NoError(t, tx.Sign(buyer.PrivateKey))
	require.NoError(t, tx.Sign(seller.PrivateKey))

	raw, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTransaction(raw)
	require.NoError(t, err)

	wantHash, err := tx.Hash()
	require.NoError(t, err)
	gotHash, err := decoded.Hash()
	require.NoError(t, err)
	require.Equal(t, wantHash, gotHash)

	signers, err := decoded.Signers()
	require.NoError(t, err)
	require.Contains(t, signers, buyerAddr)
	require.Contains(t, signers, sellerAddr)

	var params refParams
	require.NoError(t, decoded.Instructions[0].Decode(&params))
	require.Equal(t, buyerAddr, params.Buyer)
}

func TestHashExcludesSignatures(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	in, err := NewInstruction(InstrExpire, [20]byte{}, refParams{})
	require.NoError(t, err)
	tx := &Transaction{Nonce: 1, Instructions: []Instruction{in}}
	before, err := tx.Hash()
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key.PrivateKey))
	after, err := tx.Hash()
	require.NoError(t, err)
	require.Equal(t, before, after)

	tx.Nonce = 2
	changed, err := tx.Hash()
	require.NoError(t, err)
	require.NotEqual(t, before, changed)
}

func TestDecodeRejectsEmpty(t *testing.T) {
	raw, err := (&Transaction{Nonce: 1}).Encode()
	require.NoError(t, err)
	_, err = DecodeTransaction(raw)
	require.Error(t, err)

	_, err = (&Transaction{}).Signers()
	require.Error(t, err)

	_, err = DecodeTransaction([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestInstructionTypeString(t *testing.T) {
	require.Equal(t, "seller_confirmation", InstrSellerConfirmation.String())
	require.Equal(t, "unknown(0x7f)", InstructionType(0x7f).String())
}
