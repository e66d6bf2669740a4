// Package logger configures the process-wide slog logger and carries per-turn
// fields through the context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const fieldsKey contextKey = "log_fields"

// Fields are added to every record logged with a context that carries them.
type Fields struct {
	CorrelationID  string
	ConversationID string
	ActivityID     string
	UserID         string
	Component      string
}

// WithFields merges fields into ctx; non-empty values win.
func WithFields(ctx context.Context, f Fields) context.Context {
	cur := FieldsFrom(ctx)
	if f.CorrelationID != "" {
		cur.CorrelationID = f.CorrelationID
	}
	if f.ConversationID != "" {
		cur.ConversationID = f.ConversationID
	}
	if f.ActivityID != "" {
		cur.ActivityID = f.ActivityID
	}
	if f.UserID != "" {
		cur.UserID = f.UserID
	}
	if f.Component != "" {
		cur.Component = f.Component
	}
	return context.WithValue(ctx, fieldsKey, cur)
}

func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey).(Fields)
	return f
}

// ContextHandler decorates records with the Fields found in the context.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	f := FieldsFrom(ctx)
	if f.CorrelationID != "" {
		r.AddAttrs(slog.String("correlation_id", f.CorrelationID))
	}
	if f.ConversationID != "" {
		r.AddAttrs(slog.String("conversation_id", f.ConversationID))
	}
	if f.ActivityID != "" {
		r.AddAttrs(slog.String("activity_id", f.ActivityID))
	}
	if f.UserID != "" {
		r.AddAttrs(slog.String("user_id", f.UserID))
	}
	if f.Component != "" {
		r.AddAttrs(slog.String("component", f.Component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// New builds a logger writing JSON in production and text elsewhere.
func New(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewContextHandler(h))
}

// Setup installs the logger as the slog default.
func Setup(env, level string) {
	slog.SetDefault(New(os.Stdout, env, level))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
