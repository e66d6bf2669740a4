package botframework

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"teams-answer-bot/internal/domain"
)

const (
	DefaultOpenIDMetadataURL = "https://login.botframework.com/v1/.well-known/openidconfiguration"

	channelIssuer      = "https://api.botframework.com"
	clockSkew          = 5 * time.Minute
	keyRefreshInterval = 24 * time.Hour
	minKeyRefresh      = 5 * time.Minute
	maxKeyDocBytes     = 1 << 20
)

// ErrUnauthorized wraps every reason a request is not accepted as coming from
// the Bot Framework channel.
var ErrUnauthorized = errors.New("botframework: unauthorized")

type signingKey struct {
	pub          *rsa.PublicKey
	endorsements []string
}

// Verifier checks the bearer token the channel attaches to every activity
// it delivers to the bot.
type Verifier struct {
	appID       string
	metadataURL string
	httpClient  *http.Client
	now         func() time.Time

	mu        sync.Mutex
	keys      map[string]signingKey
	fetchedAt time.Time
}

type VerifierOption func(*Verifier)

func WithOpenIDMetadataURL(u string) VerifierOption {
	return func(v *Verifier) {
		v.metadataURL = strings.TrimSpace(u)
	}
}

func WithVerifierHTTPClient(hc *http.Client) VerifierOption {
	return func(v *Verifier) {
		if hc != nil {
			v.httpClient = hc
		}
	}
}

func NewVerifier(appID string, opts ...VerifierOption) (*Verifier, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, errors.New("botframework: app id must not be empty")
	}
	v := &Verifier{
		appID:       appID,
		metadataURL: DefaultOpenIDMetadataURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.metadataURL == "" {
		v.metadataURL = DefaultOpenIDMetadataURL
	}
	return v, nil
}

// Verify validates the Authorization header of an inbound request against
// the channel's signing keys and binds it to act. The token must be issued
// by the channel for this bot, and its serviceurl claim must match the
// activity's service URL.
func (v *Verifier) Verify(ctx context.Context, authHeader string, act domain.Activity) error {
	raw, ok := bearerToken(authHeader)
	if !ok {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	var key signingKey
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no key id")
		}
		k, err := v.key(ctx, kid)
		if err != nil {
			return nil, err
		}
		key = k
		return k.pub, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return fmt.Errorf("%w: token not yet valid", ErrUnauthorized)
	}
	if !claims.VerifyIssuer(channelIssuer, true) {
		return fmt.Errorf("%w: unexpected issuer", ErrUnauthorized)
	}
	if !claims.VerifyAudience(v.appID, true) {
		return fmt.Errorf("%w: token audience is not this bot", ErrUnauthorized)
	}
	if act.ChannelID != "" && !containsFold(key.endorsements, act.ChannelID) {
		return fmt.Errorf("%w: signing key not endorsed for channel %q", ErrUnauthorized, act.ChannelID)
	}
	serviceURL, _ := claims["serviceurl"].(string)
	if !sameServiceURL(serviceURL, act.ServiceURL) {
		return fmt.Errorf("%w: serviceurl claim does not match activity", ErrUnauthorized)
	}
	return nil
}

// key returns the signing key for kid. Keys are refetched daily, or early
// when an unknown kid shows up, at most once every few minutes.
func (v *Verifier) key(ctx context.Context, kid string) (signingKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	age := now.Sub(v.fetchedAt)
	stale := v.keys == nil || age > keyRefreshInterval
	if k, ok := v.keys[kid]; ok && !stale {
		return k, nil
	}
	if !stale && age < minKeyRefresh {
		return signingKey{}, fmt.Errorf("unknown signing key %q", kid)
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		if k, ok := v.keys[kid]; ok {
			return k, nil
		}
		return signingKey{}, err
	}
	v.keys = keys
	v.fetchedAt = now
	k, ok := keys[kid]
	if !ok {
		return signingKey{}, fmt.Errorf("unknown signing key %q", kid)
	}
	return k, nil
}

type openIDMetadata struct {
	JWKSURI string `json:"jwks_uri"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty          string   `json:"kty"`
	Kid          string   `json:"kid"`
	N            string   `json:"n"`
	E            string   `json:"e"`
	Endorsements []string `json:"endorsements"`
}

func (v *Verifier) fetchKeys(ctx context.Context) (map[string]signingKey, error) {
	var meta openIDMetadata
	if err := v.getJSON(ctx, v.metadataURL, &meta); err != nil {
		return nil, fmt.Errorf("fetch openid metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return nil, errors.New("openid metadata has no jwks_uri")
	}
	var set jwkSet
	if err := v.getJSON(ctx, meta.JWKSURI, &set); err != nil {
		return nil, fmt.Errorf("fetch signing keys: %w", err)
	}

	keys := make(map[string]signingKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || (k.Kty != "" && k.Kty != "RSA") {
			continue
		}
		pub, err := rsaPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = signingKey{pub: pub, endorsements: k.Endorsements}
	}
	if len(keys) == 0 {
		return nil, errors.New("no usable signing keys")
	}
	return keys, nil
}

func (v *Verifier) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyDocBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 4096 {
			body = body[:4096]
		}
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: redact(target), Body: string(body)}
	}
	return json.Unmarshal(body, out)
}

func rsaPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(eb)
	if len(nb) == 0 || !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[len("Bearer "):])
	return tok, tok != ""
}

func sameServiceURL(a, b string) bool {
	a = strings.TrimRight(strings.TrimSpace(a), "/")
	b = strings.TrimRight(strings.TrimSpace(b), "/")
	return a != "" && strings.EqualFold(a, b)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
