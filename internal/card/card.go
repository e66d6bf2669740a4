// Package card renders answers and feedback prompts as Adaptive Cards.
package card

import (
	"strconv"

	"teams-answer-bot/internal/domain"
)

const (
	ContentType = "application/vnd.microsoft.card.adaptive"
	Schema      = "http://adaptivecards.io/schemas/adaptive-card.json"

	ActionFeedback       = "feedback"
	ActionSubmitFeedback = "submit_feedback"

	FeedbackHelpful    = "helpful"
	FeedbackNotHelpful = "not_helpful"

	WorkModeToggleID = "workModeToggle"
	FeedbackTextID   = "feedbackText"
)

// Card is an Adaptive Card document.
type Card struct {
	Schema  string    `json:"$schema,omitempty"`
	Type    string    `json:"type"`
	Version string    `json:"version"`
	Body    []Element `json:"body"`
	Actions []Action  `json:"actions"`
}

// Element is a body block. Only the properties the bot uses are modelled.
type Element struct {
	Type        string    `json:"type"`
	ID          string    `json:"id,omitempty"`
	Text        string    `json:"text,omitempty"`
	Wrap        bool      `json:"wrap,omitempty"`
	Weight      string    `json:"weight,omitempty"`
	Size        string    `json:"size,omitempty"`
	Color       string    `json:"color,omitempty"`
	Title       string    `json:"title,omitempty"`
	Value       string    `json:"value,omitempty"`
	ValueOn     string    `json:"valueOn,omitempty"`
	ValueOff    string    `json:"valueOff,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	IsMultiline bool      `json:"isMultiline,omitempty"`
	Items       []Element `json:"items,omitempty"`
}

// Action is a card-level button.
type Action struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// FeedbackData is the payload of the helpful / not helpful buttons.
type FeedbackData struct {
	Action     string `json:"action"`
	Feedback   string `json:"feedback"`
	IsWorkMode bool   `json:"is_work_mode"`
}

// SubmitFeedbackData is the payload of the feedback form submit button.
type SubmitFeedbackData struct {
	Action   string `json:"action"`
	Feedback string `json:"feedback"`
}

// Composer builds reply cards.
type Composer struct {
	// StripMarkers removes citation markers from the visible answer text.
	StripMarkers bool
	// ConvertHTML rewrites <strong>/<em> emphasis into markdown.
	ConvertHTML bool
}

// CitationCard renders an answer with one link per citation, the work mode
// toggle and the two feedback buttons.
func (c Composer) CitationCard(answer string, citations []domain.Citation, workMode bool) Card {
	actions := make([]Action, 0, len(citations)+2)
	for _, ct := range citations {
		actions = append(actions, Action{
			Type:  "Action.OpenUrl",
			Title: ct.Filename,
			URL:   ct.URL,
		})
	}
	actions = append(actions,
		Action{
			Type:  "Action.Submit",
			Title: "👍 Helpful",
			Data:  FeedbackData{Action: ActionFeedback, Feedback: FeedbackHelpful, IsWorkMode: workMode},
		},
		Action{
			Type:  "Action.Submit",
			Title: "👎 Not Helpful",
			Data:  FeedbackData{Action: ActionFeedback, Feedback: FeedbackNotHelpful, IsWorkMode: workMode},
		},
	)

	return Card{
		Type:    "AdaptiveCard",
		Version: "1.5",
		Body: []Element{
			{Type: "TextBlock", Text: c.body(answer, citations), Wrap: true},
			modeContainer(workMode, true),
		},
		Actions: actions,
	}
}

// FeedbackCard asks for free-text feedback after a helpful / not helpful click.
func (c Composer) FeedbackCard(label string, workMode bool) Card {
	return Card{
		Schema:  Schema,
		Type:    "AdaptiveCard",
		Version: "1.3",
		Body: []Element{
			{Type: "TextBlock", Text: "Please provide additional feedback:", Wrap: true},
			{Type: "Input.Text", ID: FeedbackTextID, Placeholder: "Type your feedback here...", IsMultiline: true},
			modeContainer(workMode, false),
		},
		Actions: []Action{
			{
				Type:  "Action.Submit",
				Title: "Submit Feedback",
				Data:  SubmitFeedbackData{Action: ActionSubmitFeedback, Feedback: label},
			},
		},
	}
}

func (c Composer) body(answer string, citations []domain.Citation) string {
	if c.ConvertHTML {
		answer = ConvertHTMLEmphasis(answer)
	}
	if c.StripMarkers {
		answer = stripCitations(answer, citations)
	}
	return answer
}

func modeContainer(workMode, withHint bool) Element {
	items := []Element{
		{Type: "TextBlock", Text: "Mode:", Weight: "Bolder", Size: "Small"},
		{
			Type:     "Input.Toggle",
			ID:       WorkModeToggleID,
			Title:    "Work Mode",
			Value:    strconv.FormatBool(workMode),
			ValueOn:  "true",
			ValueOff: "false",
		},
	}
	if withHint {
		items = append(items, Element{
			Type:  "TextBlock",
			Text:  "Work Mode: Professional responses | Chat Mode: Casual conversation",
			Size:  "Small",
			Color: "Accent",
			Wrap:  true,
		})
	}
	return Element{Type: "Container", Items: items}
}

// Attachment wraps a card for an outbound activity.
func Attachment(c Card) domain.Attachment {
	return domain.Attachment{ContentType: ContentType, Content: c}
}
