package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RPCError is a JSON-RPC application-level error returned by the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// Broadcast rejection phrases, matched case-insensitively against node error
// messages. Geth and reth say "nonce too low" / "already known"; some pools
// answer "replacement transaction underpriced" when the exact tx is re-sent.
var nonceConflictPhrases = []string{
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
}

// Congestion phrasing differs per sequencer; MegaETH says "queue is full",
// geth-family pools say "txpool is full".
var congestionPhrases = []string{
	"queue is full",
	"txpool is full",
	"transaction pool is full",
}

// IsNonceConflict reports whether err signals that the local nonce is stale or
// the transaction was already accepted. The caller should refetch the pending
// nonce before retrying.
func IsNonceConflict(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, phrase := range nonceConflictPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// IsCongestion reports whether err signals that the node's inbound transaction
// buffer is temporarily full. The same transaction can be retried unchanged
// after a backoff.
func IsCongestion(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, phrase := range congestionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
