package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(WithBaseURL(srv.URL+"/v1.0/"), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(WithBaseURL("  "))
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.NotNil(t, c.httpClient)
}

func TestDisplayName_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.0/me", r.URL.Path)
		require.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"displayName":"Ada Lovelace"}`))
	}))
	defer srv.Close()

	name, err := newTestClient(srv).DisplayName(context.Background(), "user-token")
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", name)
}

func TestDisplayName_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).DisplayName(context.Background(), "user-token")
	require.ErrorContains(t, err, "displayName")
}

func TestGroups_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.0/me/memberOf", r.URL.Path)
		_, _ = w.Write([]byte(`{"value":[{"displayName":"Engineering"},{"id":"role-1"},{"displayName":"Finance"}]}`))
	}))
	defer srv.Close()

	groups, err := newTestClient(srv).Groups(context.Background(), "user-token")
	require.NoError(t, err)
	require.Equal(t, []string{"Engineering", MissingGroupName, "Finance"}, groups)
}

func TestGroups_FollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"value":[{"displayName":"B"}]}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"value":[{"displayName":"A"}],"@odata.nextLink":"%s/v1.0/me/memberOf?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	groups, err := newTestClient(srv).Groups(context.Background(), "user-token")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, groups)
}

func TestGroups_RefusesForeignNextLink(t *testing.T) {
	foreignCalls := 0
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignCalls++
		_, _ = w.Write([]byte(`{"value":[{"displayName":"Stolen"}]}`))
	}))
	defer foreign.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"value":[{"displayName":"A"}],"@odata.nextLink":"%s/v1.0/me/memberOf?page=2"}`, foreign.URL)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Groups(context.Background(), "user-token")
	require.ErrorContains(t, err, "foreign host")
	require.Zero(t, foreignCalls)
}

func TestGroups_StopsAfterPageLimit(t *testing.T) {
	calls := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = fmt.Fprintf(w, `{"value":[{"displayName":"G"}],"@odata.nextLink":"%s/v1.0/me/memberOf"}`, srv.URL)
	}))
	defer srv.Close()

	groups, err := newTestClient(srv).Groups(context.Background(), "user-token")
	require.NoError(t, err)
	require.Equal(t, maxGroupPages, calls)
	require.Len(t, groups, maxGroupPages)
}

func TestGroups_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	groups, err := newTestClient(srv).Groups(context.Background(), "user-token")
	require.NoError(t, err)
	require.NotNil(t, groups)
	require.Empty(t, groups)
}

func TestGroups_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Groups(context.Background(), "user-token")
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusForbidden, statusErr.HTTPStatusCode())
}

func TestGroups_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`nope`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Groups(context.Background(), "user-token")
	require.ErrorContains(t, err, "decode response")
}

func TestGroups_EmptyToken(t *testing.T) {
	_, err := NewClient().Groups(context.Background(), " ")
	require.ErrorContains(t, err, "token is required")
}

func TestGroups_NetworkError(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"), WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	_, err := c.Groups(context.Background(), "user-token")
	require.ErrorContains(t, err, "request failed")
}
