package rpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"salechain/core/types"
	"salechain/indexer"
)

const jsonRPCVersion = "2.0"

// JSON-RPC error codes. The -32000 range is server defined.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020
	codeTxRejected     = -32040
	codeProgramError   = -32050
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object. It doubles as the error a Client
// returns when the server rejects a call.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ProgramErrorData is attached to errors raised by the sale program.
type ProgramErrorData struct {
	Code        uint32 `json:"code"`
	Name        string `json:"name"`
	Instruction int    `json:"instruction"`
	Hash        string `json:"hash,omitempty"`
}

// ConfigResult describes the committed sale configuration.
type ConfigResult struct {
	ProgramID       string `json:"programId"`
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	PricePerUnit    uint64 `json:"pricePerUnit"`
	PayoutRecipient string `json:"payoutRecipient"`
	Paused          bool   `json:"paused"`
}

// AuthorityResult lists the derived addresses of the sale.
type AuthorityResult struct {
	ProgramID  string `json:"programId"`
	Authority  string `json:"authority"`
	Bump       uint8  `json:"bump"`
	Config     string `json:"config"`
	ConfigBump uint8  `json:"configBump"`
}

// QuoteParams selects the purchase size to price.
type QuoteParams struct {
	Units uint64 `json:"units"`
}

// QuoteResult prices a purchase.
type QuoteResult struct {
	Units        uint64 `json:"units"`
	PricePerUnit uint64 `json:"pricePerUnit"`
	Payment      uint64 `json:"payment"`
	Paused       bool   `json:"paused"`
}

// AccountResult is the RPC view of an account.
type AccountResult struct {
	Address    string        `json:"address"`
	Lamports   uint64        `json:"lamports"`
	Owner      string        `json:"owner"`
	Executable bool          `json:"executable"`
	Data       hexutil.Bytes `json:"data"`
}

// BalanceParams selects a wallet's associated account for a mint.
type BalanceParams struct {
	Wallet string `json:"wallet"`
	Mint   string `json:"mint"`
}

// BalanceResult reports a token balance.
type BalanceResult struct {
	Wallet   string `json:"wallet"`
	Mint     string `json:"mint"`
	Account  string `json:"account"`
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
	Display  string `json:"display"`
}

// PurchaseListParams filters sale_listPurchases.
type PurchaseListParams struct {
	Buyer string `json:"buyer,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// PurchaseListResult returns indexed purchases and running totals.
type PurchaseListResult struct {
	Purchases []indexer.Purchase `json:"purchases"`
	Totals    *indexer.Totals    `json:"totals"`
}

// ReceiptResult reflects the outcome of an executed transaction.
type ReceiptResult struct {
	Hash         string            `json:"hash"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	ProgramError *ProgramErrorData `json:"programError,omitempty"`
	Logs         []string          `json:"logs"`
	Events       []*types.Event    `json:"events"`
}
