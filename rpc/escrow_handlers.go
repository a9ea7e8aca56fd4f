package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"nftescrow/core"
	"nftescrow/core/types"
	"nftescrow/crypto"
	"nftescrow/native/escrow"
	"nftescrow/native/token"
	"nftescrow/observability/logging"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type sendTransactionParams struct {
	Raw string `json:"raw"`
}

type buyerParams struct {
	Buyer string `json:"buyer"`
}

type accountParams struct {
	Account string `json:"account"`
}

type holdingParams struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

type listEventsParams struct {
	Order string `json:"order"`
	Limit int    `json:"limit,omitempty"`
}

type ReceiptResult struct {
	Hash       string         `json:"hash"`
	ExecutedAt int64          `json:"executedAt"`
	Events     []*types.Event `json:"events"`
}

type OrderResult struct {
	Address         string `json:"address"`
	Buyer           string `json:"buyer"`
	Seller          string `json:"seller,omitempty"`
	Mint            string `json:"mint"`
	Amount          string `json:"amount"`
	Expiration      int64  `json:"expiration"`
	CreatedAt       int64  `json:"createdAt"`
	Status          string `json:"status"`
	EscrowVault     string `json:"escrowVault,omitempty"`
	Auth            string `json:"auth"`
	NftMint         string `json:"nftMint,omitempty"`
	BuyerNftAccount string `json:"buyerNftAccount,omitempty"`
	Confirmed       bool   `json:"confirmed"`
	Sequence        uint64 `json:"sequence"`
}

type BalanceResult struct {
	Account string `json:"account"`
	Owner   string `json:"owner"`
	Mint    string `json:"mint"`
	Balance string `json:"balance"`
}

type EventResult struct {
	Type       string            `json:"type"`
	Order      string            `json:"order"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

func formatOrder(o *escrow.Order) OrderResult {
	out := OrderResult{
		Address:     crypto.FormatRaw(o.Address),
		Buyer:       crypto.FormatRaw(o.Buyer),
		Seller:      crypto.FormatRaw(o.Seller),
		Mint:        crypto.FormatRaw(o.Mint),
		Amount:      o.Amount.String(),
		Expiration:  o.Expiration,
		CreatedAt:   o.CreatedAt,
		Status:      o.Status.String(),
		EscrowVault: crypto.FormatRaw(o.EscrowVault),
		Auth:        o.Auth.Mode.String(),
		Confirmed:   o.Confirmed,
		Sequence:    o.Sequence,
	}
	if o.Auth.Mode == escrow.AuthNftBound {
		out.NftMint = crypto.FormatRaw(o.Auth.NftMint)
		out.BuyerNftAccount = crypto.FormatRaw(o.Auth.BuyerNftAccount)
	}
	return out
}

func parseAddressParam(w http.ResponseWriter, id interface{}, field, value string) ([20]byte, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, field+" is required", nil)
		return [20]byte{}, false
	}
	raw, err := crypto.ParseRaw(trimmed)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid "+field, err.Error())
		return [20]byte{}, false
	}
	return raw, true
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params sendTransactionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	raw, err := hexutil.Decode(strings.TrimSpace(params.Raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "raw must be 0x-prefixed hex", err.Error())
		return
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid transaction", err.Error())
		return
	}
	receipt, err := s.backend.Submit(r.Context(), tx)
	if err != nil {
		attrs := []any{
			slog.String("request_id", w.Header().Get(requestIDHeader)),
			logging.MaskField("raw", params.Raw),
			slog.Any("error", err),
		}
		if hash, hashErr := tx.Hash(); hashErr == nil {
			attrs = append(attrs, logging.MaskField("tx", hexutil.Encode(hash[:])))
		}
		s.logger.Info("transaction rejected", attrs...)
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ReceiptResult{
		Hash:       hexutil.Encode(receipt.TxHash[:]),
		ExecutedAt: receipt.ExecutedAt,
		Events:     receipt.Events,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params buyerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	buyer, ok := parseAddressParam(w, req.ID, "buyer", params.Buyer)
	if !ok {
		return
	}
	order, err := s.backend.Order(buyer)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrder(order))
}

func (s *Server) handleDeriveOrderAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params buyerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	buyer, ok := parseAddressParam(w, req.ID, "buyer", params.Buyer)
	if !ok {
		return
	}
	writeResult(w, req.ID, map[string]string{
		"buyer": crypto.FormatRaw(buyer),
		"order": crypto.FormatRaw(escrow.DeriveOrderAddress(buyer)),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, ok := parseAddressParam(w, req.ID, "account", params.Account)
	if !ok {
		return
	}
	account, err := s.backend.Account(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Account: crypto.FormatRaw(account.Address),
		Owner:   crypto.FormatRaw(account.Owner),
		Mint:    crypto.FormatRaw(account.Mint),
		Balance: account.Balance.String(),
	})
}

func (s *Server) handleHoldingAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params holdingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, ok := parseAddressParam(w, req.ID, "owner", params.Owner)
	if !ok {
		return
	}
	mint, ok := parseAddressParam(w, req.ID, "mint", params.Mint)
	if !ok {
		return
	}
	writeResult(w, req.ID, map[string]string{"address": crypto.FormatRaw(token.HoldingAddress(owner, mint))})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeUnavailable, "event index disabled", nil)
		return
	}
	var params listEventsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	order, ok := parseAddressParam(w, req.ID, "order", params.Order)
	if !ok {
		return
	}
	limit := params.Limit
	switch {
	case limit < 0:
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "limit must not be negative", nil)
		return
	case limit == 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}
	records, err := s.index.ListByOrder(r.Context(), crypto.FormatRaw(order), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	out := make([]EventResult, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Attrs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
			return
		}
		out = append(out, EventResult{
			Type:       rec.Type,
			Order:      rec.OrderAddress,
			Timestamp:  rec.Timestamp,
			Attributes: attrs,
		})
	}
	writeResult(w, req.ID, out)
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, core.ErrDuplicateTransaction):
		status = http.StatusConflict
		code = codeDuplicateTx
		message = "duplicate_transaction"
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, escrow.ErrVaultNotFound),
		errors.Is(err, token.ErrAccountNotFound),
		errors.Is(err, token.ErrMintNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, escrow.ErrAuthorizationFailed),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, token.ErrCustodyAccount),
		errors.Is(err, core.ErrMissingSignature):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidArgument),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, core.ErrUnknownInstruction),
		errors.Is(err, core.ErrMalformedInstruction):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	case errors.Is(err, escrow.ErrWrongStatus),
		errors.Is(err, escrow.ErrExpired),
		errors.Is(err, escrow.ErrNotYetExpired),
		errors.Is(err, escrow.ErrAlreadyExists),
		errors.Is(err, escrow.ErrNotConfirmed),
		errors.Is(err, escrow.ErrUnreleasedConfirmation),
		errors.Is(err, escrow.ErrAmountMismatch),
		errors.Is(err, escrow.ErrAlreadyClosed),
		errors.Is(err, escrow.ErrVaultNotEmpty),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrMintExists),
		errors.Is(err, token.ErrAccountExists),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrSupplyCapped),
		errors.Is(err, token.ErrNonZeroBalance),
		errors.Is(err, token.ErrOverflow):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, data)
}
