package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"salechain/core/types"
	"salechain/crypto"
)

// Client calls a node's JSON-RPC endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient targets endpoint. token, when set, is sent as a bearer token.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and decodes the result into out. Server-side
// failures are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var rpcResp RPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) Config(ctx context.Context) (*ConfigResult, error) {
	var out ConfigResult
	if err := c.Call(ctx, "sale_getConfig", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Quote(ctx context.Context, units uint64) (*QuoteResult, error) {
	var out QuoteResult
	if err := c.Call(ctx, "sale_quote", &out, QuoteParams{Units: units}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Authority(ctx context.Context) (*AuthorityResult, error) {
	var out AuthorityResult
	if err := c.Call(ctx, "sale_getAuthority", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPurchases(ctx context.Context, buyer string, limit int) (*PurchaseListResult, error) {
	var out PurchaseListResult
	if err := c.Call(ctx, "sale_listPurchases", &out, PurchaseListParams{Buyer: buyer, Limit: limit}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Account(ctx context.Context, addr crypto.Address) (*AccountResult, error) {
	var out AccountResult
	if err := c.Call(ctx, "account_get", &out, addr.String()); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TokenBalance(ctx context.Context, wallet, mint crypto.Address) (*BalanceResult, error) {
	var out BalanceResult
	if err := c.Call(ctx, "token_getBalance", &out, BalanceParams{Wallet: wallet.String(), Mint: mint.String()}); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendTransaction submits tx for execution and commitment.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*ReceiptResult, error) {
	var out ReceiptResult
	if err := c.Call(ctx, "tx_send", &out, tx); err != nil {
		return nil, err
	}
	return &out, nil
}

// SimulateTransaction executes tx without committing it. A failing
// transaction is reported through the receipt, not the error.
func (c *Client) SimulateTransaction(ctx context.Context, tx *types.Transaction) (*ReceiptResult, error) {
	var out ReceiptResult
	if err := c.Call(ctx, "tx_simulate", &out, tx); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProgramErrorOf extracts the sale program error carried by an RPC error.
func ProgramErrorOf(err error) (*ProgramErrorData, bool) {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != codeProgramError || rpcErr.Data == nil {
		return nil, false
	}
	raw, marshalErr := json.Marshal(rpcErr.Data)
	if marshalErr != nil {
		return nil, false
	}
	var data ProgramErrorData
	if json.Unmarshal(raw, &data) != nil {
		return nil, false
	}
	return &data, true
}

// StreamEvents follows the node's event stream, calling fn for every event
// until ctx ends, the server closes the stream, or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, eventTypes []string, fn func(*types.Event) error) error {
	endpoint, err := c.streamURL(eventTypes)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(&evt); err != nil {
			return err
		}
	}
}

func (c *Client) streamURL(eventTypes []string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	if len(eventTypes) > 0 {
		q.Set("types", strings.Join(eventTypes, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
