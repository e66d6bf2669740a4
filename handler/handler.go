// Package handler adapts inbound Bot Framework deliveries, either API Gateway
// proxy events or plain HTTP requests, to the turn router.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"teams-answer-bot/internal/domain"
	"teams-answer-bot/internal/logger"
	"teams-answer-bot/internal/usecase"
)

const (
	correlationHeader   = "X-Correlation-Id"
	authorizationHeader = "Authorization"
)

type TurnHandler interface {
	HandleTurn(ctx context.Context, act domain.Activity) (usecase.TurnResult, error)
}

// RequestVerifier authenticates the sender of an inbound activity.
type RequestVerifier interface {
	Verify(ctx context.Context, authHeader string, act domain.Activity) error
}

// NoVerification accepts every request. Meant for the emulator only.
type NoVerification struct{}

func (NoVerification) Verify(context.Context, string, domain.Activity) error { return nil }

type Handler struct {
	turns    TurnHandler
	verifier RequestVerifier
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(turns TurnHandler, verifier RequestVerifier) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn handler must not be nil")
	}
	if verifier == nil {
		return nil, errors.New("handler: request verifier must not be nil")
	}
	return &Handler{turns: turns, verifier: verifier}, nil
}

// Handle serves an activity delivered through API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	ctx = logger.WithFields(ctx, logger.Fields{CorrelationID: corrID, Component: "lambda"})

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return respond(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body_encoding"}), nil
		}
		body = decoded
	}

	status, payload := h.process(ctx, header(req.Headers, authorizationHeader), body)
	return respond(status, corrID, payload), nil
}

// process authenticates and runs one activity, returning the HTTP status and
// optional JSON body.
func (h *Handler) process(ctx context.Context, authHeader string, body []byte) (int, any) {
	var act domain.Activity
	if err := json.Unmarshal(body, &act); err != nil {
		slog.WarnContext(ctx, "invalid activity body", "error", err)
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}
	}
	if err := h.verifier.Verify(ctx, authHeader, act); err != nil {
		slog.WarnContext(ctx, "request rejected", "service_url", act.ServiceURL, "error", err)
		return http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorUnauthorized), Reason: "invalid_token"}
	}

	res, err := h.turns.HandleTurn(ctx, act)
	if err != nil {
		code := usecase.CodeOf(err)
		status := statusFor(code)
		attrs := []any{"code", code, "status", status, "error", err}
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "turn failed", attrs...)
		} else {
			slog.WarnContext(ctx, "turn rejected", attrs...)
		}
		out := errorResponse{Error: string(code)}
		var ue *usecase.Error
		if errors.As(err, &ue) {
			out.Reason = ue.Reason
		}
		return status, out
	}

	if res.Invoke != nil {
		return res.Invoke.Status, res.Invoke.Body
	}
	return http.StatusOK, nil
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respond(status int, corrID string, payload any) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{correlationHeader: corrID},
	}
	if payload == nil {
		return resp
	}
	b, err := json.Marshal(payload)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Body = string(b)
	return resp
}

// correlationID reads the correlation header or makes a new one.
func correlationID(headers map[string]string) string {
	if v := header(headers, correlationHeader); v != "" {
		return v
	}
	return uuid.NewString()
}

// header looks name up case-insensitively; API Gateway keeps the client's casing.
func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
