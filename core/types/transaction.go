package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// InstructionType defines the purpose of a single instruction inside a
// transaction.
type InstructionType byte

const (
	InstrCreateMint           InstructionType = 0x01 // Register a fungible or non-fungible mint
	InstrCreateHoldingAccount InstructionType = 0x02 // Open the owner's holding account for a mint
	InstrMintTo               InstructionType = 0x03 // Mint authority issues units to a holding account
	InstrTransfer             InstructionType = 0x04 // Owner moves units between holding accounts

	InstrCreateOrder        InstructionType = 0x10
	InstrBuyerPayment       InstructionType = 0x11
	InstrOrderCancellation  InstructionType = 0x12
	InstrSellerConfirmation InstructionType = 0x13
	InstrEscrowRelease      InstructionType = 0x14
	InstrExpire             InstructionType = 0x15
	InstrCloseOrder         InstructionType = 0x16
)

var instructionNames = map[InstructionType]string{
	InstrCreateMint:           "create_mint",
	InstrCreateHoldingAccount: "create_holding_account",
	InstrMintTo:               "mint_to",
	InstrTransfer:             "transfer",
	InstrCreateOrder:          "create_order",
	InstrBuyerPayment:         "buyer_payment",
	InstrOrderCancellation:    "order_cancellation",
	InstrSellerConfirmation:   "seller_confirmation",
	InstrEscrowRelease:        "escrow_release",
	InstrExpire:               "expire",
	InstrCloseOrder:           "close_order",
}

func (t InstructionType) String() string {
	if name, ok := instructionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Instruction is one typed step of a transaction. Signer names the account the
// instruction acts for; it must have signed the enclosing transaction. A zero
// signer is only accepted by instructions that need no caller identity.
type Instruction struct {
	Type   InstructionType
	Signer [20]byte
	Data   []byte
}

// NewInstruction RLP-encodes params into an instruction payload.
func NewInstruction(kind InstructionType, signer [20]byte, params interface{}) (Instruction, error) {
	data, err := rlp.EncodeToBytes(params)
	if err != nil {
		return Instruction{}, fmt.Errorf("encode %s params: %w", kind, err)
	}
	return Instruction{Type: kind, Signer: signer, Data: data}, nil
}

// Decode unpacks the instruction payload into out.
func (in Instruction) Decode(out interface{}) error {
	if err := rlp.DecodeBytes(in.Data, out); err != nil {
		return fmt.Errorf("decode %s params: %w", in.Type, err)
	}
	return nil
}

// Transaction is the unit of atomic execution: either every instruction
// commits or none does.
type Transaction struct {
	Nonce        uint64
	Instructions []Instruction
	Signatures   [][]byte

	signers map[[20]byte]struct{}
}

var errNoInstructions = errors.New("transaction carries no instructions")

// Hash covers the nonce and the instructions, never the signatures.
func (tx *Transaction) Hash() ([32]byte, error) {
	payload := struct {
		Nonce        uint64
		Instructions []Instruction
	}{tx.Nonce, tx.Instructions}
	b, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// Sign appends the key's signature. Every distinct instruction signer needs one.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash[:], privKey)
	if err != nil {
		return err
	}
	tx.Signatures = append(tx.Signatures, sig)
	tx.signers = nil
	return nil
}

// Signers recovers the set of addresses that signed the transaction.
func (tx *Transaction) Signers() (map[[20]byte]struct{}, error) {
	if tx.signers != nil {
		return tx.signers, nil
	}
	if len(tx.Instructions) == 0 {
		return nil, errNoInstructions
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	out := make(map[[20]byte]struct{}, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		pub, err := crypto.SigToPub(hash[:], sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		var addr [20]byte
		copy(addr[:], crypto.PubkeyToAddress(*pub).Bytes())
		out[addr] = struct{}{}
	}
	tx.signers = out
	return out, nil
}

// Encode returns the RLP wire form of the signed transaction.
func (tx *Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// DecodeTransaction parses the RLP wire form produced by Encode.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := rlp.DecodeBytes(raw, tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if len(tx.Instructions) == 0 {
		return nil, errNoInstructions
	}
	return tx, nil
}
