package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"teams-answer-bot/internal/usecase"
)

func newTestRouter(t *testing.T, turns *stubTurns) *gin.Engine {
	t.Helper()
	return newVerifiedRouter(t, turns, &stubVerifier{})
}

func newVerifiedRouter(t *testing.T, turns *stubTurns, verifier RequestVerifier) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h, err := NewHandler(turns, verifier)
	require.NoError(t, err)
	return NewRouter(h)
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, &stubTurns{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_Messages(t *testing.T) {
	turns := &stubTurns{res: usecase.TurnResult{Route: "question", Replies: 1}}
	router := newTestRouter(t, turns)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(messageBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "corr-9")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "corr-9", w.Header().Get("X-Correlation-Id"))
	require.Equal(t, "What is X?", turns.in.Text)
}

func TestRouter_MessagesInvoke(t *testing.T) {
	turns := &stubTurns{res: usecase.TurnResult{Invoke: &usecase.InvokeResponse{Status: http.StatusOK}}}
	router := newTestRouter(t, turns)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/messages",
		strings.NewReader(`{"type":"invoke","name":"signin/verifyState","value":{"state":"123"}}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "signin/verifyState", turns.in.Name)
}

func TestRouter_MessagesMalformed(t *testing.T) {
	router := newTestRouter(t, &stubTurns{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"INVALID_INPUT","reason":"invalid_json"}`, w.Body.String())
}

func TestRouter_MessagesUpstreamFailure(t *testing.T) {
	router := newTestRouter(t, &stubTurns{err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "error_reply_failed"}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(messageBody)))
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRouter_MessagesUnauthorized(t *testing.T) {
	turns := &stubTurns{}
	verifier := &stubVerifier{err: errors.New("token expired")}
	router := newVerifiedRouter(t, turns, verifier)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(messageBody))
	req.Header.Set("Authorization", "Bearer stale")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"UNAUTHORIZED","reason":"invalid_token"}`, w.Body.String())
	require.Equal(t, "Bearer stale", verifier.header)
	require.Empty(t, turns.in.Type)
}

func TestRouter_RecoversPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(recovery())
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
