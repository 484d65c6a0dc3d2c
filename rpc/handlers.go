package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"salechain/core"
	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/sale"
)

// decodeParam unmarshals params[idx] into dst. Missing optional params
// leave dst untouched.
func decodeParam(req *RPCRequest, idx int, dst interface{}, required bool) *RPCError {
	if idx >= len(req.Params) || len(req.Params[idx]) == 0 || string(req.Params[idx]) == "null" {
		if required {
			return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("parameter %d required", idx)}
		}
		return nil
	}
	if err := json.Unmarshal(req.Params[idx], dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid parameter %d", idx), Data: err.Error()}
	}
	return nil
}

func parseAddressParam(field, raw string) (crypto.Address, *RPCError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: field + " required"}
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid " + field, Data: err.Error()}
	}
	return addr, nil
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, err := s.node.SaleConfig()
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	addr, err := s.node.ConfigAddress()
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, ConfigResult{
		ProgramID:       s.node.ProgramID().String(),
		Address:         addr.String(),
		Owner:           cfg.Owner.String(),
		PricePerUnit:    cfg.PricePerUnit,
		PayoutRecipient: cfg.PayoutRecipient.String(),
		Paused:          cfg.Paused,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var units uint64
	if len(req.Params) > 0 && json.Unmarshal(req.Params[0], &units) != nil {
		var params QuoteParams
		if rpcErr := decodeParam(req, 0, &params, true); rpcErr != nil {
			writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
			return
		}
		units = params.Units
	} else if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "units required", nil)
		return
	}
	quote, err := s.node.Quote(units)
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, QuoteResult(*quote))
}

func (s *Server) handleGetAuthority(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	authority, err := s.node.Authority()
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	config, err := sale.DeriveConfig(s.node.ProgramID())
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, AuthorityResult{
		ProgramID:  s.node.ProgramID().String(),
		Authority:  authority.Address.String(),
		Bump:       authority.Bump,
		Config:     config.Address.String(),
		ConfigBump: config.Bump,
	})
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.purchases == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "purchase index not configured", nil)
		return
	}
	var params PurchaseListParams
	if rpcErr := decodeParam(req, 0, &params, false); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	buyer := ""
	if strings.TrimSpace(params.Buyer) != "" {
		addr, rpcErr := parseAddressParam("buyer", params.Buyer)
		if rpcErr != nil {
			writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
			return
		}
		buyer = addr.String()
	}
	purchases, err := s.purchases.ListPurchases(r.Context(), buyer, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list purchases", err.Error())
		return
	}
	totals, err := s.purchases.Totals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to total purchases", err.Error())
		return
	}
	writeResult(w, req.ID, PurchaseListResult{Purchases: purchases, Totals: totals})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var raw string
	if rpcErr := decodeParam(req, 0, &raw, true); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddressParam("address", raw)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	acc, err := s.node.Account(addr)
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, AccountResult{
		Address:    addr.String(),
		Lamports:   acc.Lamports,
		Owner:      acc.Owner.String(),
		Executable: acc.Executable,
		Data:       acc.Data,
	})
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params BalanceParams
	if rpcErr := decodeParam(req, 0, &params, true); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	wallet, rpcErr := parseAddressParam("wallet", params.Wallet)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	mintAddr, rpcErr := parseAddressParam("mint", params.Mint)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	mint, err := s.node.Mint(mintAddr)
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	ata, amount, err := s.node.TokenBalance(wallet, mintAddr)
	if err != nil {
		s.writeQueryError(w, req, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Wallet:   wallet.String(),
		Mint:     mintAddr.String(),
		Account:  ata.String(),
		Amount:   amount,
		Decimals: mint.Decimals,
		Display:  sale.FormatUnits(amount, int32(mint.Decimals)),
	})
}

func decodeTransaction(req *RPCRequest) (*types.Transaction, *RPCError) {
	var tx types.Transaction
	if rpcErr := decodeParam(req, 0, &tx, true); rpcErr != nil {
		return nil, rpcErr
	}
	if err := tx.Message.Validate(); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid transaction", Data: err.Error()}
	}
	return &tx, nil
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	tx, rpcErr := decodeTransaction(req)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	hash, err := tx.Hash()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to hash transaction", err.Error())
		return
	}
	hashHex := fmt.Sprintf("0x%x", hash)
	if !s.rememberTx(hashHex) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "transaction has already been submitted", hashHex)
		return
	}

	receipt, err := s.node.SubmitTransaction(r.Context(), tx)
	if err != nil {
		s.forgetTx(hashHex)
		status, txErr := transactionError(receipt, err)
		writeRPCError(w, status, req.ID, txErr)
		return
	}
	writeResult(w, req.ID, receiptResult(receipt, nil))
}

func (s *Server) handleSimulateTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	tx, rpcErr := decodeTransaction(req)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	receipt, err := s.node.SimulateTransaction(r.Context(), tx)
	writeResult(w, req.ID, receiptResult(receipt, err))
}

func receiptResult(receipt *runtime.Receipt, err error) ReceiptResult {
	out := ReceiptResult{Logs: []string{}, Events: []*types.Event{}}
	if receipt != nil {
		out.Hash = receipt.Hash
		out.Success = receipt.Success
		out.Error = receipt.Error
		if receipt.Logs != nil {
			out.Logs = receipt.Logs
		}
		if receipt.Events != nil {
			out.Events = receipt.Events
		}
	}
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		out.ProgramError = programErrorData(receipt, err)
	}
	return out
}

func programErrorData(receipt *runtime.Receipt, err error) *ProgramErrorData {
	saleErr, ok := sale.AsError(err)
	if !ok {
		return nil
	}
	data := &ProgramErrorData{Code: saleErr.Code, Name: saleErr.Name}
	var ixErr *runtime.InstructionError
	if errors.As(err, &ixErr) {
		data.Instruction = ixErr.Index
	}
	if receipt != nil {
		data.Hash = receipt.Hash
	}
	return data
}

// transactionError maps a rejected transaction onto an HTTP status and
// JSON-RPC error. Sale program failures carry their numeric code in data.
func transactionError(receipt *runtime.Receipt, err error) (int, *RPCError) {
	if data := programErrorData(receipt, err); data != nil {
		return http.StatusBadRequest, &RPCError{Code: codeProgramError, Message: err.Error(), Data: data}
	}
	hash := ""
	if receipt != nil {
		hash = receipt.Hash
	}
	switch {
	case errors.Is(err, runtime.ErrReplay):
		return http.StatusConflict, &RPCError{Code: codeDuplicateTx, Message: err.Error(), Data: hash}
	case errors.Is(err, runtime.ErrMissingSignature):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: hash}
	}
	return http.StatusBadRequest, &RPCError{Code: codeTxRejected, Message: err.Error(), Data: hash}
}

func (s *Server) writeQueryError(w http.ResponseWriter, req *RPCRequest, err error) {
	switch {
	case errors.Is(err, sale.ErrNotInitialized), errors.Is(err, core.ErrNotTokenAccount):
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, err.Error(), nil)
	case errors.Is(err, sale.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), programErrorData(nil, err))
	case errors.Is(err, sale.ErrOverflow):
		writeError(w, http.StatusBadRequest, req.ID, codeProgramError, err.Error(), programErrorData(nil, err))
	default:
		s.logger.Error("rpc query failed", "method", req.Method, "error", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", err.Error())
	}
}
