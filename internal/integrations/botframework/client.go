// Package botframework talks to the Bot Framework services on behalf of the
// bot: the channel connector (replies) and the user token service (OAuth
// sign-in, sign-out and SSO token exchange).
package botframework

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

	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTokenServiceURL = "https://token.botframework.com"
	defaultTenant          = "botframework.com"
	connectorScope         = "https://api.botframework.com/.default"
)

// HTTPStatusError captures non-2xx responses from Bot Framework services.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("botframework: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Credentials returns the client-credentials flow used to obtain the bot's
// connector token. An empty tenant selects the multi-tenant authority.
func Credentials(appID, appPassword, tenantID string) *clientcredentials.Config {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = defaultTenant
	}
	return &clientcredentials.Config{
		ClientID:     appID,
		ClientSecret: appPassword,
		TokenURL:     "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/token",
		Scopes:       []string{connectorScope},
	}
}

// AuthenticatedHTTPClient returns an HTTP client that attaches and refreshes
// the bot token on every request.
func AuthenticatedHTTPClient(ctx context.Context, cfg *clientcredentials.Config, timeout time.Duration) *http.Client {
	hc := cfg.Client(ctx)
	hc.Timeout = timeout
	return hc
}

// Client is the bot's view of the Bot Framework services.
type Client struct {
	httpClient      *http.Client
	appID           string
	connectionName  string
	tokenServiceURL string
	trustedHosts    []string
}

type Option func(*Client)

func WithTokenServiceURL(u string) Option {
	return func(c *Client) {
		c.tokenServiceURL = strings.TrimRight(strings.TrimSpace(u), "/")
	}
}

// WithTrustedServiceHosts adds domains replies may be sent to on top of
// DefaultTrustedServiceHosts.
func WithTrustedServiceHosts(hosts ...string) Option {
	return func(c *Client) {
		c.trustedHosts = append(c.trustedHosts, hosts...)
	}
}

// NewClient creates a Client. httpClient must already carry the bot token
// (see AuthenticatedHTTPClient).
func NewClient(httpClient *http.Client, appID, connectionName string, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("botframework: http client must not be nil")
	}
	connectionName = strings.TrimSpace(connectionName)
	if connectionName == "" {
		return nil, errors.New("botframework: oauth connection name must not be empty")
	}
	c := &Client{
		httpClient:      httpClient,
		appID:           strings.TrimSpace(appID),
		connectionName:  connectionName,
		tokenServiceURL: defaultTokenServiceURL,
		trustedHosts:    append([]string(nil), DefaultTrustedServiceHosts...),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokenServiceURL == "" {
		c.tokenServiceURL = defaultTokenServiceURL
	}
	return c, nil
}

func (c *Client) ConnectionName() string {
	return c.connectionName
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil.
// A 404 is returned as *HTTPStatusError like any other non-2xx status.
func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("botframework: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("botframework: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("botframework: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: redact(target), Body: string(buf)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("botframework: read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("botframework: decode response: %w", err)
	}
	return nil
}

// redact drops the query string, which may carry magic codes.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	return u.String()
}

func isNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
