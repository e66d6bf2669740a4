package botframework

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"teams-answer-bot/internal/domain"
)

const (
	testAppID      = "app-id"
	testKid        = "key-1"
	testServiceURL = "https://smba.trafficmanager.net/emea/"
)

type keyServer struct {
	srv     *httptest.Server
	priv    *rsa.PrivateKey
	fetches atomic.Int32
}

func newKeyServer(t *testing.T, endorsements ...string) *keyServer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ks := &keyServer{priv: priv}

	mux := http.NewServeMux()
	mux.HandleFunc("/openid", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": ks.srv.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{{
			"kty":          "RSA",
			"kid":          testKid,
			"n":            base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
			"e":            base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
			"endorsements": endorsements,
		}}})
	})
	ks.srv = httptest.NewServer(mux)
	t.Cleanup(ks.srv.Close)
	return ks
}

func (ks *keyServer) verifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testAppID, WithOpenIDMetadataURL(ks.srv.URL+"/openid"), WithVerifierHTTPClient(ks.srv.Client()))
	require.NoError(t, err)
	return v
}

func (ks *keyServer) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(ks.priv)
	require.NoError(t, err)
	return "Bearer " + raw
}

func channelClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":        channelIssuer,
		"aud":        testAppID,
		"exp":        now.Add(time.Hour).Unix(),
		"nbf":        now.Add(-time.Minute).Unix(),
		"serviceurl": testServiceURL,
	}
}

func TestNewVerifier_RequiresAppID(t *testing.T) {
	_, err := NewVerifier(" ")
	require.ErrorContains(t, err, "app id")
}

func TestVerify_AcceptsChannelToken(t *testing.T) {
	ks := newKeyServer(t, "msteams")
	v := ks.verifier(t)

	act := inbound("https://smba.trafficmanager.net/emea")
	require.NoError(t, v.Verify(context.Background(), ks.sign(t, testKid, channelClaims()), act))

	// Cached keys serve the next request.
	require.NoError(t, v.Verify(context.Background(), ks.sign(t, testKid, channelClaims()), act))
	require.Equal(t, int32(1), ks.fetches.Load())
}

func TestVerify_Rejects(t *testing.T) {
	ks := newKeyServer(t, "msteams")

	cases := []struct {
		name   string
		header func(t *testing.T) string
		act    domain.Activity
		want   string
	}{
		{
			name:   "missing header",
			header: func(*testing.T) string { return "" },
			act:    inbound(testServiceURL),
			want:   "missing bearer token",
		},
		{
			name:   "not a bearer token",
			header: func(*testing.T) string { return "Basic abc" },
			act:    inbound(testServiceURL),
			want:   "missing bearer token",
		},
		{
			name: "wrong audience",
			header: func(t *testing.T) string {
				c := channelClaims()
				c["aud"] = "someone-else"
				return ks.sign(t, testKid, c)
			},
			act:  inbound(testServiceURL),
			want: "audience",
		},
		{
			name: "wrong issuer",
			header: func(t *testing.T) string {
				c := channelClaims()
				c["iss"] = "https://sts.windows.net/evil/"
				return ks.sign(t, testKid, c)
			},
			act:  inbound(testServiceURL),
			want: "issuer",
		},
		{
			name: "expired beyond skew",
			header: func(t *testing.T) string {
				c := channelClaims()
				c["exp"] = time.Now().Add(-10 * time.Minute).Unix()
				return ks.sign(t, testKid, c)
			},
			act:  inbound(testServiceURL),
			want: "expired",
		},
		{
			name: "serviceurl mismatch",
			header: func(t *testing.T) string {
				return ks.sign(t, testKid, channelClaims())
			},
			act:  inbound("https://attacker.example/"),
			want: "serviceurl",
		},
		{
			name: "unknown key",
			header: func(t *testing.T) string {
				return ks.sign(t, "other-key", channelClaims())
			},
			act:  inbound(testServiceURL),
			want: "unknown signing key",
		},
		{
			name: "channel not endorsed",
			header: func(t *testing.T) string {
				return ks.sign(t, testKid, channelClaims())
			},
			act: func() domain.Activity {
				a := inbound(testServiceURL)
				a.ChannelID = "webchat"
				return a
			}(),
			want: "not endorsed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ks.verifier(t).Verify(context.Background(), tc.header(t), tc.act)
			require.ErrorIs(t, err, ErrUnauthorized)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestVerify_RejectsForeignSigningKey(t *testing.T) {
	ks := newKeyServer(t, "msteams")
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, channelClaims())
	tok.Header["kid"] = testKid
	raw, err := tok.SignedString(other)
	require.NoError(t, err)

	err = ks.verifier(t).Verify(context.Background(), "Bearer "+raw, inbound(testServiceURL))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerify_UnknownKidRefetchIsThrottled(t *testing.T) {
	ks := newKeyServer(t, "msteams")
	v := ks.verifier(t)
	now := time.Now()
	v.now = func() time.Time { return now }

	act := inbound(testServiceURL)
	require.NoError(t, v.Verify(context.Background(), ks.sign(t, testKid, channelClaims()), act))
	require.Error(t, v.Verify(context.Background(), ks.sign(t, "rotated", channelClaims()), act))
	require.Equal(t, int32(1), ks.fetches.Load())

	now = now.Add(minKeyRefresh + time.Second)
	require.Error(t, v.Verify(context.Background(), ks.sign(t, "rotated", channelClaims()), act))
	require.Equal(t, int32(2), ks.fetches.Load())
}
