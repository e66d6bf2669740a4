package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"teams-answer-bot/internal/domain"
)

// Invoke names sent by Teams while a user signs in.
const (
	InvokeVerifyState   = "signin/verifyState"
	InvokeTokenExchange = "signin/tokenExchange"
)

type verifyStateValue struct {
	State string `json:"state"`
}

type tokenExchangeValue struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName"`
	Token          string `json:"token"`
}

// TokenExchangeResponse is the invoke body Teams expects after an SSO exchange.
type TokenExchangeResponse struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName"`
	FailureDetail  string `json:"failureDetail,omitempty"`
}

func (s *TurnService) signOut(ctx context.Context, t *turn) error {
	if err := s.auth.SignOut(ctx, t.act); err != nil {
		return fmt.Errorf("usecase: sign out: %w", err)
	}
	return s.sendText(ctx, t, msgSignedOut)
}

func (s *TurnService) login(ctx context.Context, t *turn) error {
	token, err := s.auth.UserToken(ctx, t.act, "")
	if err != nil {
		return fmt.Errorf("usecase: get user token: %w", err)
	}
	if token == "" {
		return s.promptSignIn(ctx, t, msgStartSignIn)
	}
	name, err := s.directory.DisplayName(ctx, token)
	if err != nil {
		slog.WarnContext(ctx, "profile lookup failed, using channel name", "error", err)
		name = t.act.From.Name
	}
	return s.sendText(ctx, t, fmt.Sprintf(msgLoggedInAs, name))
}

// promptSignIn sends a notice followed by the OAuth sign-in card.
func (s *TurnService) promptSignIn(ctx context.Context, t *turn, notice string) error {
	attachment, err := s.auth.SignInCard(ctx, t.act, signInTitle, signInText)
	if err != nil {
		return fmt.Errorf("usecase: build sign-in card: %w", err)
	}
	if err := s.sendText(ctx, t, notice); err != nil {
		return err
	}
	reply := t.act.Reply()
	reply.Attachments = []domain.Attachment{attachment}
	return s.send(ctx, t, reply)
}

func (s *TurnService) onInvoke(ctx context.Context, t *turn) (*InvokeResponse, error) {
	switch t.act.Name {
	case InvokeVerifyState:
		t.route = "verify_state"
		return s.verifyState(ctx, t)
	case InvokeTokenExchange:
		t.route = "token_exchange"
		return s.tokenExchange(ctx, t)
	default:
		t.route = "ignored"
		slog.DebugContext(ctx, "ignoring invoke", "name", t.act.Name)
		return &InvokeResponse{Status: http.StatusOK}, nil
	}
}

// verifyState redeems the magic code shown to the user after a browser sign-in.
func (s *TurnService) verifyState(ctx context.Context, t *turn) (*InvokeResponse, error) {
	var v verifyStateValue
	if len(t.act.Value) > 0 {
		if err := json.Unmarshal(t.act.Value, &v); err != nil {
			slog.WarnContext(ctx, "malformed verifyState value", "error", err)
		}
	}

	token, err := s.auth.UserToken(ctx, t.act, v.State)
	if err != nil {
		slog.WarnContext(ctx, "verify state failed", "error", err)
	}
	msg := msgSignInSucceeded
	if token == "" {
		msg = msgSignInFailed
	}
	if err := s.sendText(ctx, t, msg); err != nil {
		return nil, err
	}
	return &InvokeResponse{Status: http.StatusOK}, nil
}

// tokenExchange trades the Teams SSO token for a connection token. A refused
// exchange answers 412 so the client falls back to the sign-in card.
func (s *TurnService) tokenExchange(ctx context.Context, t *turn) (*InvokeResponse, error) {
	var v tokenExchangeValue
	if len(t.act.Value) > 0 {
		if err := json.Unmarshal(t.act.Value, &v); err != nil {
			slog.WarnContext(ctx, "malformed tokenExchange value", "error", err)
		}
	}
	body := TokenExchangeResponse{ID: v.ID, ConnectionName: v.ConnectionName}

	var token string
	if strings.TrimSpace(v.Token) != "" {
		var err error
		token, err = s.auth.ExchangeToken(ctx, t.act, v.Token)
		if err != nil {
			slog.WarnContext(ctx, "token exchange failed", "error", err)
		}
	}
	if token == "" {
		body.FailureDetail = "The bot is unable to exchange token. Proceed with regular login."
		if err := s.sendText(ctx, t, msgSignInFailed); err != nil {
			return nil, err
		}
		return &InvokeResponse{Status: http.StatusPreconditionFailed, Body: body}, nil
	}
	if err := s.sendText(ctx, t, msgSignInSucceeded); err != nil {
		return nil, err
	}
	return &InvokeResponse{Status: http.StatusOK, Body: body}, nil
}

// onMembersAdded greets users joining the conversation. The bot's own
// membership event is skipped.
func (s *TurnService) onMembersAdded(ctx context.Context, t *turn) error {
	t.route = "members_added"
	joined := false
	for _, m := range t.act.MembersAdded {
		if m.ID != "" && m.ID != t.act.Recipient.ID {
			joined = true
			break
		}
	}
	if !joined {
		t.route = "ignored"
		return nil
	}

	token, err := s.auth.UserToken(ctx, t.act, "")
	if err != nil {
		return fmt.Errorf("usecase: get user token: %w", err)
	}
	if token == "" {
		return s.promptSignIn(ctx, t, msgNoSession)
	}
	return s.sendText(ctx, t, msgWelcomeBack)
}
