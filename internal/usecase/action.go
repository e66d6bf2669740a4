package usecase

import (
	"bytes"
	"encoding/json"
	"strings"

	"teams-answer-bot/internal/card"
)

type ActionKind int

const (
	ActionUnrecognized ActionKind = iota
	ActionQuestion
	ActionFeedbackPrompt
	ActionSubmitFeedback
)

func (k ActionKind) String() string {
	switch k {
	case ActionQuestion:
		return "question"
	case ActionFeedbackPrompt:
		return "feedback_prompt"
	case ActionSubmitFeedback:
		return "submit_feedback"
	default:
		return "unrecognized"
	}
}

// Action is the classified value payload of a message activity.
type Action struct {
	Kind     ActionKind
	Label    string
	Text     string
	WorkMode bool
}

type actionPayload struct {
	Action         string          `json:"action"`
	Feedback       string          `json:"feedback"`
	FeedbackText   string          `json:"feedbackText"`
	WorkModeToggle json.RawMessage `json:"workModeToggle"`
	IsWorkMode     json.RawMessage `json:"is_work_mode"`
}

// ParseAction classifies a value payload. An empty payload is a plain
// question; a payload that is not an object or names an unknown action is
// unrecognized.
func ParseAction(raw json.RawMessage) Action {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Action{Kind: ActionQuestion, WorkMode: true}
	}

	var p actionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Action{Kind: ActionUnrecognized, WorkMode: true}
	}

	switch p.Action {
	case card.ActionSubmitFeedback:
		return Action{
			Kind:     ActionSubmitFeedback,
			Label:    p.Feedback,
			Text:     p.FeedbackText,
			WorkMode: parseMode(p.WorkModeToggle),
		}
	case card.ActionFeedback:
		return Action{
			Kind:     ActionFeedbackPrompt,
			Label:    p.Feedback,
			WorkMode: parseMode(p.IsWorkMode),
		}
	case "":
		return Action{Kind: ActionQuestion, WorkMode: parseMode(p.WorkModeToggle)}
	default:
		return Action{Kind: ActionUnrecognized, WorkMode: parseMode(p.WorkModeToggle)}
	}
}

// parseMode reads a toggle value sent either as a string or a JSON bool.
// An absent, null or unreadable value keeps work mode on; a present string
// is on only when it equals "true" ignoring case.
func parseMode(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return true
}
