package domain

import "time"

// AnswerRequest is the payload sent to the answer service.
type AnswerRequest struct {
	ConversationID string   `json:"conversation_id"`
	Question       string   `json:"question"`
	PrincipalID    string   `json:"client_principal_id"`
	PrincipalName  string   `json:"client_principal_name"`
	GroupNames     []string `json:"client_group_names"`
	IsWorkMode     bool     `json:"is_work_mode"`
}

// Citation is a source reference found in an answer.
type Citation struct {
	Token    string
	Filename string
	URL      string
}

// Feedback is a single helpful/not-helpful submission.
type Feedback struct {
	ID             string
	UserID         string
	ConversationID string
	Label          string
	Text           string
	IsWorkMode     bool
	CreatedAt      time.Time
}
