// Package answer calls the remote answer-generation service (the orchestrator).
//
// Generate never fails: every transport, status or decoding problem is turned
// into a human readable answer text and tagged as a degraded Result, so a turn
// always has something to render.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"teams-answer-bot/internal/domain"
	"teams-answer-bot/internal/integrations/paramstore"
)

const (
	defaultTimeout = 120 * time.Second
	noAnswerText   = "No answer provided."
	keyHeader      = "x-functions-key"
)

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
)

// Degradation reasons.
const (
	ReasonMissingAnswer  = "missing_answer"
	ReasonUpstreamStatus = "upstream_status"
	ReasonTransport      = "transport_error"
	ReasonDecode         = "decode_error"
	ReasonKey            = "key_error"
)

// Result is the outcome of one answer request. Text is always renderable.
type Result struct {
	Text       string
	Outcome    Outcome
	Reason     string
	StatusCode int
}

func (r Result) Degraded() bool { return r.Outcome == OutcomeDegraded }

type answerResponse struct {
	// Answer is nil when the field is absent or null. An empty answer is
	// passed through unchanged.
	Answer         *string `json:"answer"`
	Thoughts       string  `json:"thoughts,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// Client posts questions to the orchestrator endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	getter     paramstore.Getter
	keyParam   string
	staticKey  string

	keyMu sync.Mutex
	key   string
}

type Option func(*Client)

// WithFunctionKey sets the shared secret directly; Parameter Store is not consulted.
func WithFunctionKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

// WithParamStore loads the shared secret from the named parameter on first use.
func WithParamStore(g paramstore.Getter, name string) Option {
	return func(c *Client) {
		c.getter = g
		c.keyParam = strings.TrimSpace(name)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("answer: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" && (c.getter == nil || c.keyParam == "") {
		return nil, errors.New("answer: a function key or a parameter store source is required")
	}
	return c, nil
}

// Generate sends the request and returns the answer text. It does not return
// an error and recovers from panics in the request path.
func (c *Client) Generate(ctx context.Context, req domain.AnswerRequest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "answer request panicked", "panic", r)
			res = degraded(ReasonTransport, 0, fmt.Sprintf("Error in application backend.%v", r))
		}
	}()

	if req.GroupNames == nil {
		req.GroupNames = []string{}
	}

	key, err := c.resolveKey(ctx)
	if err != nil {
		return degraded(ReasonKey, 0, "Error in application backend."+err.Error())
	}

	body, err := json.Marshal(req)
	if err != nil {
		return degraded(ReasonDecode, 0, "Error in application backend."+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return degraded(ReasonTransport, 0, "Error in application backend."+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(keyHeader, key)

	started := time.Now()
	resp, err := c.resolvedHTTPClient().Do(httpReq)
	if err != nil {
		slog.WarnContext(ctx, "answer service unreachable", "error", err)
		return degraded(ReasonTransport, 0, "Error in application backend."+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.WarnContext(ctx, "answer service returned non-200",
			"status", resp.StatusCode,
			"body", string(snippet),
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
		return degraded(ReasonUpstreamStatus, resp.StatusCode, fmt.Sprintf("Error: API call failed with status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return degraded(ReasonTransport, resp.StatusCode, "Error in application backend."+err.Error())
	}
	var payload answerResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return degraded(ReasonDecode, resp.StatusCode, "Error in application backend."+err.Error())
	}

	slog.DebugContext(ctx, "answer received", "elapsed_ms", time.Since(started).Milliseconds())
	if payload.Answer == nil {
		return degraded(ReasonMissingAnswer, resp.StatusCode, noAnswerText)
	}
	return Result{Text: *payload.Answer, Outcome: OutcomeOK, StatusCode: resp.StatusCode}
}

func degraded(reason string, status int, text string) Result {
	return Result{Text: text, Outcome: OutcomeDegraded, Reason: reason, StatusCode: status}
}

// resolveKey returns the static key, or fetches it from Parameter Store and
// keeps it for the process lifetime. Failed lookups are retried on the next call.
func (c *Client) resolveKey(ctx context.Context) (string, error) {
	if c.staticKey != "" {
		return c.staticKey, nil
	}
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.key != "" {
		return c.key, nil
	}
	key, err := paramstore.Secret(ctx, c.getter, c.keyParam)
	if err != nil {
		return "", err
	}
	c.key = key
	return key, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}
