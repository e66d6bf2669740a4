// Package graph reads the signed-in user's profile and group memberships from
// Microsoft Graph using the user's delegated token.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	maxGroupPages  = 10

	// MissingGroupName stands in for groups whose displayName the token cannot read.
	MissingGroupName = "missing-group-read-all-permission"
)

// HTTPStatusError captures non-200 Graph responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("graph: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type profileResponse struct {
	DisplayName string `json:"displayName"`
}

type memberOfResponse struct {
	Value []struct {
		DisplayName *string `json:"displayName"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	return c
}

// DisplayName returns the displayName of the token's user.
func (c *Client) DisplayName(ctx context.Context, token string) (string, error) {
	var p profileResponse
	if err := c.getJSON(ctx, token, c.baseURL+"/me", &p); err != nil {
		return "", err
	}
	if p.DisplayName == "" {
		return "", errors.New("graph: profile has no displayName")
	}
	return p.DisplayName, nil
}

// Groups returns the display names of the directory objects the user is a
// direct member of, following pagination. A next link pointing anywhere but
// the Graph host is refused so the user's token never leaves it.
func (c *Client) Groups(ctx context.Context, token string) ([]string, error) {
	groups := []string{}
	next := c.baseURL + "/me/memberOf?$select=displayName"
	for page := 0; next != "" && page < maxGroupPages; page++ {
		if page > 0 && !sameOrigin(c.baseURL, next) {
			return nil, fmt.Errorf("graph: refusing next link to foreign host %q", hostOf(next))
		}
		var resp memberOfResponse
		if err := c.getJSON(ctx, token, next, &resp); err != nil {
			return nil, err
		}
		for _, v := range resp.Value {
			if v.DisplayName == nil || *v.DisplayName == "" {
				groups = append(groups, MissingGroupName)
				continue
			}
			groups = append(groups, *v.DisplayName)
		}
		next = resp.NextLink
	}
	return groups, nil
}

func sameOrigin(base, link string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	l, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Scheme, l.Scheme) && strings.EqualFold(b.Host, l.Host)
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Host
}

func (c *Client) getJSON(ctx context.Context, token, url string, out any) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("graph: token is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("graph: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("graph: decode response: %w", err)
	}
	return nil
}
