package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}

	errStr := err.Error()
	if errStr != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q, want %q", errStr, "RPC error -32000: nonce too low")
	}

	if !isRPCError(err) {
		t.Error("isRPCError should return true for *RPCError")
	}
	if !isRPCError(fmt.Errorf("wrapped: %w", err)) {
		t.Error("isRPCError should unwrap wrapped *RPCError")
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "502 Bad Gateway",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestGetRetryDelay(t *testing.T) {
	defaultBackoff := 100 * time.Millisecond

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
	}{
		{
			name:      "HTTP error with Retry-After",
			err:       &HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second},
			wantDelay: 2 * time.Second,
		},
		{
			name:      "HTTP error without Retry-After",
			err:       &HTTPStatusError{StatusCode: 503},
			wantDelay: defaultBackoff,
		},
		{
			name:      "RPC error uses default",
			err:       &RPCError{Code: -32000, Message: "test"},
			wantDelay: defaultBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getRetryDelay(tt.err, defaultBackoff); got != tt.wantDelay {
				t.Errorf("getRetryDelay() = %v, want %v", got, tt.wantDelay)
			}
		})
	}
}

func TestIsNonceConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nonce too low",
			err:  &RPCError{Code: -32000, Message: "nonce too low: next nonce 5, tx nonce 3"},
			want: true,
		},
		{
			name: "already known",
			err:  &RPCError{Code: -32000, Message: "already known"},
			want: true,
		},
		{
			name: "mixed case",
			err:  &RPCError{Code: -32000, Message: "Nonce Too Low"},
			want: true,
		},
		{
			name: "replacement underpriced",
			err:  &RPCError{Code: -32000, Message: "replacement transaction underpriced"},
			want: true,
		},
		{
			name: "queue is full is not a nonce conflict",
			err:  &RPCError{Code: -32000, Message: "queue is full"},
			want: false,
		},
		{
			name: "insufficient funds",
			err:  &RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"},
			want: false,
		},
		{
			name: "non-RPC error",
			err:  errors.New("nonce too low"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNonceConflict(tt.err); got != tt.want {
				t.Errorf("IsNonceConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsCongestion(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "queue is full",
			err:  &RPCError{Code: -32000, Message: "queue is full"},
			want: true,
		},
		{
			name: "txpool is full",
			err:  &RPCError{Code: -32000, Message: "txpool is full"},
			want: true,
		},
		{
			name: "transaction pool is full",
			err:  &RPCError{Code: -32000, Message: "transaction pool is full: too many pending"},
			want: true,
		},
		{
			name: "nonce too low is not congestion",
			err:  &RPCError{Code: -32000, Message: "nonce too low"},
			want: false,
		},
		{
			name: "non-RPC error",
			err:  errors.New("queue is full"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCongestion(tt.err); got != tt.want {
				t.Errorf("IsCongestion(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	url := "http://localhost:8545"
	cfg := DefaultClientConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 2*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", cfg.MaxBackoff)
	}
}

// newTestClient spins up a mock JSON-RPC node and returns a client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return NewHTTPClient(cfg)
}

func rpcResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	resp := map[string]any{"jsonrpc": "2.0", "id": 1, "result": result}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestSendRawTransactionReturnsHash(t *testing.T) {
	const wantHash = "0xabc123def456abc123def456abc123def456abc123def456abc123def456abcd"

	var gotMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		gotMethod = req.Method
		rpcResult(t, w, wantHash)
	})

	hash, err := client.SendRawTransaction(context.Background(), []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("SendRawTransaction() error = %v", err)
	}
	if hash != wantHash {
		t.Errorf("SendRawTransaction() hash = %q, want %q", hash, wantHash)
	}
	if gotMethod != "eth_sendRawTransaction" {
		t.Errorf("method = %q, want eth_sendRawTransaction", gotMethod)
	}
}

func TestSendRawTransactionRPCErrorNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "nonce too low"},
		}
		json.NewEncoder(w).Encode(resp)
	})

	_, err := client.SendRawTransaction(context.Background(), []byte{0x01})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsNonceConflict(err) {
		t.Errorf("error %v should classify as nonce conflict", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("RPC errors must not be retried at transport level; got %d calls, want 1", got)
	}
}

func TestCallRetriesRetryableHTTPStatus(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rpcResult(t, w, "0x1")
	})

	result, err := client.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(result) != `"0x1"` {
		t.Errorf("Call() result = %s, want \"0x1\"", result)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("call count = %d, want 3 (two 503s then success)", got)
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Call(context.Background(), "eth_blockNumber", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries, got nil")
	}
	var httpErr *HTTPStatusError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want wrapped *HTTPStatusError", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", httpErr.StatusCode)
	}
}

func TestGetNonceUsesPendingTag(t *testing.T) {
	var gotParams []interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotParams = req.Params
		rpcResult(t, w, "0x2a")
	})

	nonce, err := client.GetNonce(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("GetNonce() error = %v", err)
	}
	if nonce != 42 {
		t.Errorf("GetNonce() = %d, want 42", nonce)
	}
	if len(gotParams) != 2 || gotParams[1] != "pending" {
		t.Errorf("params = %v, want [address, pending]", gotParams)
	}
}

func TestGetConfirmedNonceUsesLatestTag(t *testing.T) {
	var gotParams []interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotParams = req.Params
		rpcResult(t, w, "0x5")
	})

	nonce, err := client.GetConfirmedNonce(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("GetConfirmedNonce() error = %v", err)
	}
	if nonce != 5 {
		t.Errorf("GetConfirmedNonce() = %d, want 5", nonce)
	}
	if len(gotParams) != 2 || gotParams[1] != "latest" {
		t.Errorf("params = %v, want [address, latest]", gotParams)
	}
}

func TestGetChainID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, "0x18c6") // 6342
	})

	chainID, err := client.GetChainID(context.Background())
	if err != nil {
		t.Fatalf("GetChainID() error = %v", err)
	}
	if chainID != 6342 {
		t.Errorf("GetChainID() = %d, want 6342", chainID)
	}
}

func TestGetBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, "0xde0b6b3a7640000") // 1 ETH
	})

	balance, err := client.GetBalance(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if balance.String() != "1000000000000000000" {
		t.Errorf("GetBalance() = %s, want 1000000000000000000", balance)
	}
}

func TestCallContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Call(ctx, "eth_blockNumber", nil)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
