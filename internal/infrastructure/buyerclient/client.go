package buyerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/buyer"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
	"github.com/homeprojects/lead-auction-exchange/internal/metrics"
)

// PingResult is the parsed outcome of one PING call.
type PingResult struct {
	Status         auction.CallStatus
	Accepted       bool
	BidAmount      *values.Money
	Reason         string
	ResponseTimeMs int64
	Response       json.RawMessage
}

// PostResult is the parsed outcome of a POST delivery, after retries.
type PostResult struct {
	Status         auction.CallStatus
	Accepted       bool
	ExternalLeadID string
	Reason         string
	ResponseTimeMs int64
	Response       json.RawMessage
	Attempts       int
}

// Client sends PING and POST calls to buyer endpoints. Implementations must
// be safe for concurrent use; the auction engine fans out across buyers.
type Client interface {
	Ping(ctx context.Context, b *buyer.Buyer, payload json.RawMessage) (*PingResult, error)
	Post(ctx context.Context, b *buyer.Buyer, payload json.RawMessage) (*PostResult, error)
}

// HTTPClient is the production Client over net/http. Timeouts are enforced
// per call from the buyer's configured ping/post windows, not on the shared
// transport.
type HTTPClient struct {
	httpClient  *http.Client
	logger      *zap.Logger
	maxAttempts int
	backoff     []time.Duration
	metrics     *metrics.Metrics
}

// NewHTTPClient creates a buyer client. maxAttempts caps POST attempts
// including the first; backoff lists the pre-retry delays.
func NewHTTPClient(logger *zap.Logger, maxAttempts int, backoff []time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// WithMetrics attaches call counters; nil leaves instrumentation off.
func (c *HTTPClient) WithMetrics(m *metrics.Metrics) *HTTPClient {
	c.metrics = m
	return c
}

func (c *HTTPClient) observe(action string, status auction.CallStatus, elapsedMs int64) {
	if c.metrics == nil {
		return
	}
	c.metrics.BuyerCalls.WithLabelValues(action, string(status)).Inc()
	c.metrics.BuyerCallDuration.WithLabelValues(action).Observe(float64(elapsedMs) / 1000)
}

// pingEnvelope and postEnvelope are the required buyer response schemas.
type pingEnvelope struct {
	Accepted  bool          `json:"accepted"`
	BidAmount *values.Money `json:"bidAmount,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

type postEnvelope struct {
	Accepted       bool   `json:"accepted"`
	ExternalLeadID string `json:"externalLeadId,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Ping sends a single-shot PING under the buyer's ping timeout. Timeouts and
// endpoint failures come back as a result, not an error; the caller persists
// every attempt either way.
func (c *HTTPClient) Ping(ctx context.Context, b *buyer.Buyer, payload json.RawMessage) (*PingResult, error) {
	attempt, err := c.send(ctx, b, payload, b.PingTimeout)
	if err != nil {
		return nil, err
	}

	result := &PingResult{
		Status:         attempt.status,
		Reason:         attempt.reason,
		ResponseTimeMs: attempt.elapsedMs,
		Response:       attempt.body,
	}
	defer func() { c.observe("PING", result.Status, result.ResponseTimeMs) }()
	if attempt.status != auction.CallSuccess {
		return result, nil
	}

	var env pingEnvelope
	if err := json.Unmarshal(attempt.body, &env); err != nil {
		c.logger.Warn("malformed ping response",
			zap.String("buyer", b.Name),
			zap.Error(err))
		result.Status = auction.CallFailed
		result.Reason = "MALFORMED_RESPONSE"
		return result, nil
	}

	result.Accepted = env.Accepted
	result.BidAmount = env.BidAmount
	if env.Reason != "" {
		result.Reason = env.Reason
	}
	return result, nil
}

// Post delivers the lead to the buyer, retrying on timeout or 5xx up to the
// attempt cap with the configured backoff. 4xx responses are terminal.
func (c *HTTPClient) Post(ctx context.Context, b *buyer.Buyer, payload json.RawMessage) (*PostResult, error) {
	var last *callAttempt
	attempts := 0
	for i := 0; i < c.maxAttempts; i++ {
		if i > 0 {
			select {
			case <-time.After(c.backoffFor(i)):
			case <-ctx.Done():
				return c.postResult(last, attempts), nil
			}
		}

		attempt, err := c.send(ctx, b, payload, b.PostTimeout)
		if err != nil {
			return nil, err
		}
		last = attempt
		attempts = i + 1

		if !attempt.retryable() {
			break
		}
		c.logger.Warn("post attempt failed, retrying",
			zap.String("buyer", b.Name),
			zap.Int("attempt", attempts),
			zap.String("status", string(attempt.status)),
			zap.Int("http_status", attempt.httpStatus))
	}

	result := c.postResult(last, attempts)
	c.observe("POST", result.Status, result.ResponseTimeMs)
	return result, nil
}

func (c *HTTPClient) postResult(last *callAttempt, attempts int) *PostResult {
	if last == nil {
		return &PostResult{Status: auction.CallTimeout, Reason: "CANCELLED", Attempts: 0}
	}

	result := &PostResult{
		Status:         last.status,
		Reason:         last.reason,
		ResponseTimeMs: last.elapsedMs,
		Response:       last.body,
		Attempts:       attempts,
	}
	if last.status != auction.CallSuccess {
		return result
	}

	var env postEnvelope
	if err := json.Unmarshal(last.body, &env); err != nil {
		result.Status = auction.CallFailed
		result.Reason = "MALFORMED_RESPONSE"
		return result
	}
	result.Accepted = env.Accepted
	result.ExternalLeadID = env.ExternalLeadID
	if env.Reason != "" {
		result.Reason = env.Reason
	}
	return result
}

func (c *HTTPClient) backoffFor(attempt int) time.Duration {
	if len(c.backoff) == 0 {
		return 500 * time.Millisecond
	}
	idx := attempt - 1
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}
	return c.backoff[idx]
}

// callAttempt is the raw outcome of one HTTP exchange before schema parsing.
type callAttempt struct {
	status     auction.CallStatus
	reason     string
	httpStatus int
	body       json.RawMessage
	elapsedMs  int64
}

func (a *callAttempt) retryable() bool {
	return a.status == auction.CallTimeout ||
		(a.status == auction.CallFailed && a.httpStatus >= 500)
}

// send performs one HTTP POST under its own deadline and classifies the
// outcome. Only request construction problems surface as errors.
func (c *HTTPClient) send(ctx context.Context, b *buyer.Buyer, payload json.RawMessage, timeout time.Duration) (*callAttempt, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, b.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for buyer %s: %w", b.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	injectAuth(req, b.Auth)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		attempt := &callAttempt{elapsedMs: elapsed}
		if isTimeout(err) {
			attempt.status = auction.CallTimeout
			attempt.reason = "TIMEOUT"
		} else {
			attempt.status = auction.CallFailed
			attempt.reason = "CONNECTION_ERROR"
			attempt.body = errorBody(err)
		}
		return attempt, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	elapsed = time.Since(start).Milliseconds()
	if err != nil {
		attempt := &callAttempt{elapsedMs: elapsed, httpStatus: resp.StatusCode}
		if isTimeout(err) {
			attempt.status = auction.CallTimeout
			attempt.reason = "TIMEOUT"
		} else {
			attempt.status = auction.CallFailed
			attempt.reason = "READ_ERROR"
			attempt.body = errorBody(err)
		}
		return attempt, nil
	}

	attempt := &callAttempt{
		httpStatus: resp.StatusCode,
		body:       body,
		elapsedMs:  elapsed,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		attempt.status = auction.CallFailed
		attempt.reason = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		return attempt, nil
	}
	attempt.status = auction.CallSuccess
	return attempt, nil
}

func injectAuth(req *http.Request, auth buyer.AuthConfig) {
	switch auth.Kind {
	case buyer.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case buyer.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case buyer.AuthCustom:
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorBody(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}
