// Package rpcclient is a JSON-RPC 2.0 HTTP client for the upstream
// Bitcoin node the indexer trusts (spec.md §6 "Node RPC (consumed)").
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a JSON-RPC 2.0 HTTP client with optional basic auth, the
// standard way Bitcoin Core's RPC server is secured.
type Client struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL with no
// authentication.
func New(endpoint string) *Client {
	return NewWithAuth(endpoint, "", "", 10*time.Second)
}

// NewWithAuth creates a new RPC client with HTTP basic auth and a custom
// timeout (0 selects the default of 10s).
func NewWithAuth(endpoint, user, pass string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		user:     user,
		pass:     pass,
		http:     &http.Client{Timeout: timeout},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// notFoundCode is the error code Bitcoin Core returns for "no such
// block/transaction" lookups (RPC_INVALID_ADDRESS_OR_KEY).
const notFoundCode = -8

// IsNotFound reports whether err is an RPCError for a missing
// block/transaction, either by its well-known code or by a "not found"
// suffix in the message, per spec.md §6.
func IsNotFound(err error) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	if rpcErr.Code == notFoundCode {
		return true
	}
	return hasNotFoundSuffix(rpcErr.Message)
}

func hasNotFoundSuffix(msg string) bool {
	const suffix = "not found"
	if len(msg) < len(suffix) {
		return false
	}
	tail := msg[len(msg)-len(suffix):]
	for i := 0; i < len(suffix); i++ {
		a, b := tail[i], suffix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// Call invokes a JSON-RPC method and unmarshals the result into the
// provided pointer. If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.pass != "" {
		httpReq.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}
