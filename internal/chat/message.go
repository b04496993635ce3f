// Package chat holds the message, score and context types shared by the
// scoring, queueing and dispatch layers.
package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingID     = errors.New("message id is required")
	ErrMissingSource = errors.New("message source is required")
	ErrMissingAuthor = errors.New("message author id is required")
	ErrAlreadyScored = errors.New("message already carries a score")
	ErrNilMessage    = errors.New("message is nil")
)

// ValidationError reports which required field of a message was missing.
type ValidationError struct {
	MessageID string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("invalid message: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid message %s: %s: %v", e.MessageID, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Roles holds the role flags a source reports for an author.
type Roles struct {
	Subscriber bool `json:"subscriber"`
	Moderator  bool `json:"moderator"`
	FirstTime  bool `json:"first_time"`
}

// Author identifies who sent a message. Tenure is nil when the source does
// not report how long the author has followed or subscribed.
type Author struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Roles       Roles          `json:"roles"`
	Tenure      *time.Duration `json:"tenure,omitempty"`
}

// Message is one inbound chat message. It is immutable after construction
// except for the single score attachment performed by the ingestion path.
type Message struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Channel   string    `json:"channel"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Mentions  []string  `json:"mentions,omitempty"`
	Links     []string  `json:"links,omitempty"`
	ArrivedAt time.Time `json:"arrived_at"`

	score *Score
}

// Validate checks the fields every message must carry. Empty text is valid.
func (m *Message) Validate() error {
	if m == nil {
		return &ValidationError{Field: "message", Err: ErrNilMessage}
	}
	if m.ID == "" {
		return &ValidationError{Field: "id", Err: ErrMissingID}
	}
	if m.Source == "" {
		return &ValidationError{MessageID: m.ID, Field: "source", Err: ErrMissingSource}
	}
	if m.Author.ID == "" {
		return &ValidationError{MessageID: m.ID, Field: "author.id", Err: ErrMissingAuthor}
	}
	return nil
}

// AttachScore records the message's score. It may be called once; rescoring
// requires a new Message.
func (m *Message) AttachScore(s Score) error {
	if m.score != nil {
		return ErrAlreadyScored
	}
	m.score = &s
	return nil
}

// Score returns the attached score, if any.
func (m *Message) Score() (Score, bool) {
	if m.score == nil {
		return Score{}, false
	}
	return *m.score, true
}

// Level returns the attached score's level, or LevelIgnore when unscored.
func (m *Message) Level() Level {
	if m.score == nil {
		return LevelIgnore
	}
	return m.score.Level
}

// TenureOrZero returns the author's tenure, treating an absent value as zero.
func (a Author) TenureOrZero() time.Duration {
	if a.Tenure == nil {
		return 0
	}
	return *a.Tenure
}

// Age returns how long ago the message arrived relative to now. Future
// arrival times are reported as zero age.
func (m *Message) Age(now time.Time) time.Duration {
	age := now.Sub(m.ArrivedAt)
	if age < 0 {
		return 0
	}
	return age
}
