package rpcclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeNode serves a tiny subset of Bitcoin Core's JSON-RPC surface so
// the client's request/response envelope and the -8/"not found" error
// mapping can be exercised without a real node.
func fakeNode(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		var params []json.RawMessage
		if req.Params != nil {
			raw, _ := json.Marshal(req.Params)
			json.Unmarshal(raw, &params)
		}
		result, rpcErr := handler(req.Method, params)
		resp := response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			data, _ := json.Marshal(result)
			resp.Result = data
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClientCallBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		var req request
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"pong"`)})
	}))
	defer srv.Close()

	c := NewWithAuth(srv.URL, "alice", "hunter2", 0)
	var result string
	if err := c.Call("ping", nil, &result); err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if result != "pong" {
		t.Errorf("result = %q, want pong", result)
	}
	if gotUser != "alice" || gotPass != "hunter2" {
		t.Errorf("basic auth = %q/%q, want alice/hunter2", gotUser, gotPass)
	}
}

func TestGetBlockHashNotFound(t *testing.T) {
	srv := fakeNode(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -8, Message: "Block height out of range"}
	})
	defer srv.Close()

	c := New(srv.URL)
	hash, err := c.GetBlockHash(999999)
	if err != nil {
		t.Fatalf("expected nil error for not-found, got %v", err)
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty", hash)
	}
}

func TestGetRawTransactionNotFoundBySuffix(t *testing.T) {
	srv := fakeNode(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -5, Message: "No such mempool or blockchain transaction. Use gettransaction for wallet transactions. Not Found"}
	})
	defer srv.Close()

	c := New(srv.URL)
	tx, err := c.GetRawTransaction("deadbeef")
	if err != nil {
		t.Fatalf("expected nil error for not-found, got %v", err)
	}
	if tx != nil {
		t.Errorf("tx = %+v, want nil", tx)
	}
}

func TestGetBlockDecodesVerbosity2(t *testing.T) {
	srv := fakeNode(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		if method != "getblock" {
			return nil, &rpcError{Code: -32601, Message: "Method not found"}
		}
		return Block{
			Hash:   "00",
			Height: 7,
			Tx: []RawTransaction{
				{Txid: "aa", Vout: []Vout{{Value: 0.5, N: 0}}},
			},
		}, nil
	})
	defer srv.Close()

	c := New(srv.URL)
	blk, err := c.GetBlock("00")
	if err != nil {
		t.Fatalf("GetBlock error: %v", err)
	}
	if blk.Height != 7 || len(blk.Tx) != 1 {
		t.Errorf("block = %+v", blk)
	}
}

func TestCallPropagatesOtherErrors(t *testing.T) {
	srv := fakeNode(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32601, Message: "Method not found"}
	})
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetBlockchainInfo()
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if IsNotFound(err) {
		t.Errorf("method-not-found should not be classified as not-found: %v", err)
	}
}

func TestCallConnectionError(t *testing.T) {
	c := New("http://127.0.0.1:1/") // port 1: connection refused
	var result string
	if err := c.Call("ping", nil, &result); err == nil {
		t.Fatal("expected connection error")
	}
}
