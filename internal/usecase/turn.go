package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"teams-answer-bot/internal/card"
	"teams-answer-bot/internal/citation"
	"teams-answer-bot/internal/domain"
	"teams-answer-bot/internal/integrations/answer"
	"teams-answer-bot/internal/logger"
)

// Reply texts.
const (
	msgSignedOut       = "you are now signed out...👋"
	msgLoggedInAs      = "successfully logged in! %s"
	msgStartSignIn     = "Starting sign in flow."
	msgFeedbackThanks  = "Thank you for your feedback!"
	msgNoSession       = "No existing login session found, Initiating login"
	msgSignInSucceeded = "successfully logged in! Please ask the question again"
	msgSignInFailed    = "failed to login..."
	msgWelcomeBack     = "Welcome back! Ask me anything."
	msgEmptyQuestion   = "Please type a question."
	msgTurnError       = "The bot encountered an error or bug."

	signInTitle = "Sign In"
	signInText  = "please sign in"
)

const (
	commandSignOut = "/signout"
	commandLogin   = "/login"
)

type Sender interface {
	SendActivity(ctx context.Context, inbound, activity domain.Activity) (string, error)
}

type Authenticator interface {
	UserToken(ctx context.Context, act domain.Activity, code string) (string, error)
	SignOut(ctx context.Context, act domain.Activity) error
	ExchangeToken(ctx context.Context, act domain.Activity, ssoToken string) (string, error)
	SignInCard(ctx context.Context, act domain.Activity, title, text string) (domain.Attachment, error)
}

type Directory interface {
	DisplayName(ctx context.Context, token string) (string, error)
	Groups(ctx context.Context, token string) ([]string, error)
}

type Answerer interface {
	Generate(ctx context.Context, req domain.AnswerRequest) answer.Result
}

type FeedbackWriter interface {
	SaveFeedback(ctx context.Context, fb domain.Feedback) error
}

type TurnConfig struct {
	Resolver *citation.Resolver
	Composer card.Composer
	// Markdown sends answers as a markdown message with a sources list
	// instead of an Adaptive Card.
	Markdown bool
}

// TurnService routes one inbound activity to its handler and sends the replies.
type TurnService struct {
	sender    Sender
	auth      Authenticator
	directory Directory
	answers   Answerer
	feedback  FeedbackWriter
	resolver  *citation.Resolver
	composer  card.Composer
	markdown  bool
	now       func() time.Time
}

// InvokeResponse is returned to the channel in the HTTP response of an invoke activity.
type InvokeResponse struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

type TurnResult struct {
	Route   string
	Replies int
	Invoke  *InvokeResponse
}

func NewTurnService(sender Sender, auth Authenticator, dir Directory, answers Answerer, fb FeedbackWriter, cfg TurnConfig) (*TurnService, error) {
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if auth == nil {
		return nil, errors.New("usecase: authenticator must not be nil")
	}
	if dir == nil {
		return nil, errors.New("usecase: directory must not be nil")
	}
	if answers == nil {
		return nil, errors.New("usecase: answer client must not be nil")
	}
	if fb == nil {
		return nil, errors.New("usecase: feedback writer must not be nil")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = citation.NewResolver(citation.DefaultBaseURL, citation.DefaultLibraryPath)
	}
	return &TurnService{
		sender:    sender,
		auth:      auth,
		directory: dir,
		answers:   answers,
		feedback:  fb,
		resolver:  resolver,
		composer:  cfg.Composer,
		markdown:  cfg.Markdown,
		now:       time.Now,
	}, nil
}

// turn carries the inbound activity and counts the replies sent for it.
type turn struct {
	act     domain.Activity
	route   string
	replies int
}

// HandleTurn processes one activity. Handler failures and panics are logged
// and answered with a generic message; the returned error is reserved for
// activities that cannot be routed and for replies that could not be sent.
func (s *TurnService) HandleTurn(ctx context.Context, act domain.Activity) (res TurnResult, err error) {
	if err := validateActivity(act); err != nil {
		return TurnResult{}, newError(ErrorInvalidInput, "malformed_activity", err)
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		ConversationID: act.Conversation.ID,
		ActivityID:     act.ID,
		UserID:         act.UserID(),
		Component:      "turn",
	})
	t := &turn{act: act}

	defer func() {
		if r := recover(); r != nil {
			res, err = s.fail(ctx, t, fmt.Errorf("panic: %v", r))
		}
	}()

	inv, err := s.dispatch(ctx, t)
	if err != nil {
		return s.fail(ctx, t, err)
	}
	slog.DebugContext(ctx, "turn handled", "route", t.route, "replies", t.replies)
	return TurnResult{Route: t.route, Replies: t.replies, Invoke: inv}, nil
}

func (s *TurnService) dispatch(ctx context.Context, t *turn) (*InvokeResponse, error) {
	switch t.act.Type {
	case domain.ActivityTypeMessage:
		return nil, s.onMessage(ctx, t)
	case domain.ActivityTypeInvoke:
		return s.onInvoke(ctx, t)
	case domain.ActivityTypeConversationUpdate:
		return nil, s.onMembersAdded(ctx, t)
	default:
		t.route = "ignored"
		return nil, nil
	}
}

func (s *TurnService) onMessage(ctx context.Context, t *turn) error {
	switch strings.ToLower(strings.TrimSpace(t.act.Text)) {
	case commandSignOut:
		t.route = "signout"
		return s.signOut(ctx, t)
	case commandLogin:
		t.route = "login"
		return s.login(ctx, t)
	}

	action := ParseAction(t.act.Value)
	t.route = action.Kind.String()
	switch action.Kind {
	case ActionSubmitFeedback:
		return s.submitFeedback(ctx, t, action)
	case ActionFeedbackPrompt:
		return s.sendCard(ctx, t, s.composer.FeedbackCard(action.Label, action.WorkMode))
	default:
		if action.Kind == ActionUnrecognized {
			slog.InfoContext(ctx, "unrecognized card action, answering as a question")
		}
		return s.answerQuestion(ctx, t, action.WorkMode)
	}
}

func (s *TurnService) submitFeedback(ctx context.Context, t *turn, action Action) error {
	fb := domain.Feedback{
		ID:             uuid.NewString(),
		UserID:         t.act.UserID(),
		ConversationID: t.act.Conversation.ID,
		Label:          action.Label,
		Text:           strings.TrimSpace(action.Text),
		IsWorkMode:     action.WorkMode,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.feedback.SaveFeedback(ctx, fb); err != nil {
		slog.ErrorContext(ctx, "save feedback failed", "label", fb.Label, "error", err)
	}
	return s.sendText(ctx, t, msgFeedbackThanks)
}

func (s *TurnService) answerQuestion(ctx context.Context, t *turn, workMode bool) error {
	token, err := s.auth.UserToken(ctx, t.act, "")
	if err != nil {
		return fmt.Errorf("usecase: get user token: %w", err)
	}
	if token == "" {
		return s.promptSignIn(ctx, t, msgNoSession)
	}

	question := strings.TrimSpace(t.act.Text)
	if question == "" {
		return s.sendText(ctx, t, msgEmptyQuestion)
	}

	req := domain.AnswerRequest{
		ConversationID: t.act.Conversation.ID,
		Question:       question,
		PrincipalID:    t.act.UserID(),
		PrincipalName:  t.act.From.Name,
		GroupNames:     s.groups(ctx, token),
		IsWorkMode:     workMode,
	}
	res := s.answers.Generate(ctx, req)
	if res.Degraded() {
		slog.WarnContext(ctx, "answer degraded", "reason", res.Reason, "status", res.StatusCode)
	}

	citations := s.resolver.Resolve(citation.Extract(res.Text))
	if s.markdown {
		text := card.FormatMarkdown(res.Text, citations)
		if s.composer.ConvertHTML {
			text = card.ConvertHTMLEmphasis(text)
		}
		reply := t.act.Reply()
		reply.Text = text
		reply.TextFormat = "markdown"
		return s.send(ctx, t, reply)
	}
	return s.sendCard(ctx, t, s.composer.CitationCard(res.Text, citations, workMode))
}

// groups never fails the turn: a lookup error yields an empty list.
func (s *TurnService) groups(ctx context.Context, token string) []string {
	groups, err := s.directory.Groups(ctx, token)
	if err != nil {
		attrs := []any{"error", err}
		if status, ok := upstreamStatusCode(err); ok {
			attrs = append(attrs, "status", status)
		}
		slog.WarnContext(ctx, "group lookup failed, continuing without groups", attrs...)
		return []string{}
	}
	if groups == nil {
		return []string{}
	}
	return groups
}

func (s *TurnService) fail(ctx context.Context, t *turn, cause error) (TurnResult, error) {
	slog.ErrorContext(ctx, "turn failed", "route", t.route, "error", cause)
	res := TurnResult{Route: t.route}
	if t.act.Type == domain.ActivityTypeInvoke {
		res.Invoke = &InvokeResponse{Status: http.StatusInternalServerError}
	}
	if err := s.sendText(ctx, t, msgTurnError); err != nil {
		res.Replies = t.replies
		return res, newError(ErrorUpstream, "error_reply_failed", errors.Join(cause, err))
	}
	res.Replies = t.replies
	return res, nil
}

func (s *TurnService) sendText(ctx context.Context, t *turn, text string) error {
	reply := t.act.Reply()
	reply.Text = text
	return s.send(ctx, t, reply)
}

func (s *TurnService) sendCard(ctx context.Context, t *turn, c card.Card) error {
	reply := t.act.Reply()
	reply.Attachments = []domain.Attachment{card.Attachment(c)}
	return s.send(ctx, t, reply)
}

func (s *TurnService) send(ctx context.Context, t *turn, reply domain.Activity) error {
	if _, err := s.sender.SendActivity(ctx, t.act, reply); err != nil {
		return fmt.Errorf("usecase: send reply: %w", err)
	}
	t.replies++
	return nil
}

func validateActivity(act domain.Activity) error {
	if strings.TrimSpace(act.Type) == "" {
		return errors.New("activity type is required")
	}
	switch act.Type {
	case domain.ActivityTypeMessage, domain.ActivityTypeInvoke, domain.ActivityTypeConversationUpdate:
	default:
		return nil
	}
	if strings.TrimSpace(act.Conversation.ID) == "" {
		return errors.New("conversation id is required")
	}
	if strings.TrimSpace(act.ServiceURL) == "" {
		return errors.New("service url is required")
	}
	if strings.TrimSpace(act.From.ID) == "" {
		return errors.New("sender id is required")
	}
	return nil
}
