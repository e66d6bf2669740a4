package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"teams-answer-bot/internal/domain"
	"teams-answer-bot/internal/usecase"
)

type stubTurns struct {
	res usecase.TurnResult
	err error
	in  domain.Activity
}

func (s *stubTurns) HandleTurn(_ context.Context, act domain.Activity) (usecase.TurnResult, error) {
	s.in = act
	return s.res, s.err
}

type stubVerifier struct {
	err    error
	header string
	act    domain.Activity
}

func (s *stubVerifier) Verify(_ context.Context, authHeader string, act domain.Activity) error {
	s.header = authHeader
	s.act = act
	return s.err
}

const messageBody = `{"type":"message","id":"a1","serviceUrl":"https://smba.example.com/","from":{"id":"29:u","aadObjectId":"aad"},"conversation":{"id":"conv-1"},"text":"What is X?"}`

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/api/messages",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, &stubVerifier{})
	require.Error(t, err)

	_, err = NewHandler(&stubTurns{}, nil)
	require.ErrorContains(t, err, "verifier")
}

func TestHandle_Message(t *testing.T) {
	turns := &stubTurns{res: usecase.TurnResult{Route: "question", Replies: 1}}
	h, err := NewHandler(turns, &stubVerifier{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(messageBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, domain.ActivityTypeMessage, turns.in.Type)
	require.Equal(t, "What is X?", turns.in.Text)
	require.Equal(t, "aad", turns.in.UserID())
}

func TestHandle_Base64Body(t *testing.T) {
	turns := &stubTurns{}
	h, err := NewHandler(turns, &stubVerifier{})
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(messageBody)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "conv-1", turns.in.Conversation.ID)
}

func TestHandle_InvokeResponse(t *testing.T) {
	turns := &stubTurns{res: usecase.TurnResult{Invoke: &usecase.InvokeResponse{
		Status: http.StatusPreconditionFailed,
		Body:   usecase.TokenExchangeResponse{ID: "ex-1", ConnectionName: "graph", FailureDetail: "nope"},
	}}}
	h, err := NewHandler(turns, &stubVerifier{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"type":"invoke","name":"signin/tokenExchange"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	out := parseBody[usecase.TokenExchangeResponse](t, resp.Body)
	require.Equal(t, "ex-1", out.ID)
	require.Equal(t, "nope", out.FailureDetail)
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubTurns{}, &stubVerifier{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json", out.Reason)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_activity"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_token"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthorized)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "error_reply_failed"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubTurns{err: tc.err}, &stubVerifier{})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(messageBody))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubTurns{}, &stubVerifier{})
	require.NoError(t, err)

	event := makeEvent(messageBody)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_PassesAuthorizationHeader_CaseInsensitive(t *testing.T) {
	verifier := &stubVerifier{}
	h, err := NewHandler(&stubTurns{}, verifier)
	require.NoError(t, err)

	event := makeEvent(messageBody)
	event.Headers["authorization"] = "Bearer tok"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer tok", verifier.header)
	require.Equal(t, "https://smba.example.com/", verifier.act.ServiceURL)
}

func TestHandle_RejectsUnverifiedRequest(t *testing.T) {
	turns := &stubTurns{}
	h, err := NewHandler(turns, &stubVerifier{err: errors.New("serviceurl claim does not match activity")})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(messageBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorUnauthorized), out.Error)
	require.Equal(t, "invalid_token", out.Reason)
	require.Empty(t, turns.in.Type, "turn must not run for an unverified request")
}

func TestNoVerification_AcceptsAnything(t *testing.T) {
	require.NoError(t, NoVerification{}.Verify(context.Background(), "", domain.Activity{}))
}
