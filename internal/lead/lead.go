// ABOUTME: Domain types for lead qualification conversations
// ABOUTME: Defines Status, Session, Changes and the Event variants consumed by the state machine

package lead

import (
	"maps"
	"time"
)

// Status is the conversation stage of a single lead.
type Status string

const (
	StatusPendingConsent Status = "pending_consent"
	StatusActive         Status = "active"
	StatusFollowUp       Status = "follow_up"
	StatusSecured        Status = "secured"
	StatusDeclined       Status = "declined"
)

// Terminal reports whether no further transitions may be applied.
func (s Status) Terminal() bool {
	return s == StatusSecured || s == StatusDeclined
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingConsent, StatusActive, StatusFollowUp, StatusSecured, StatusDeclined:
		return true
	}
	return false
}

// NoQuestion marks a session that is not positioned on any question.
const NoQuestion = -1

// Session is the mutable conversation state for one lead. Values handed out by
// the registry are copies; mutate through the registry only.
type Session struct {
	LeadID            string
	Name              string
	Status            Status
	QuestionIndex     int
	Answers           map[string]string
	LastInteractionAt time.Time
	FollowUpSent      bool
	CreatedAt         time.Time

	// Version increments on every applied mutation.
	Version uint64
}

// New returns a fresh pending_consent session.
func New(leadID, name string, now time.Time) Session {
	return Session{
		LeadID:            leadID,
		Name:              name,
		Status:            StatusPendingConsent,
		QuestionIndex:     NoQuestion,
		Answers:           make(map[string]string),
		LastInteractionAt: now,
		CreatedAt:         now,
	}
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	c := s
	c.Answers = maps.Clone(s.Answers)
	if c.Answers == nil {
		c.Answers = make(map[string]string)
	}
	return c
}

// CurrentQuestion returns the question index when the session is positioned on
// a question within a script of n questions.
func (s Session) CurrentQuestion(n int) (int, bool) {
	if s.Status != StatusActive && s.Status != StatusFollowUp {
		return NoQuestion, false
	}
	if s.QuestionIndex < 0 || s.QuestionIndex >= n {
		return NoQuestion, false
	}
	return s.QuestionIndex, true
}

// Answer is a single collected answer.
type Answer struct {
	Field string
	Text  string
}

// Changes is a partial update to a session. Nil fields are left untouched.
type Changes struct {
	Status        *Status
	QuestionIndex *int
	Answer        *Answer
	FollowUpSent  *bool
}

// Empty reports whether the changes would leave the session untouched.
func (c Changes) Empty() bool {
	return c.Status == nil && c.QuestionIndex == nil && c.Answer == nil && c.FollowUpSent == nil
}

// Apply writes the changes into s and stamps the interaction time.
func (c Changes) Apply(s *Session, now time.Time) {
	if c.Status != nil {
		s.Status = *c.Status
	}
	if c.QuestionIndex != nil {
		s.QuestionIndex = *c.QuestionIndex
	}
	if c.Answer != nil {
		if s.Answers == nil {
			s.Answers = make(map[string]string)
		}
		s.Answers[c.Answer.Field] = c.Answer.Text
	}
	if c.FollowUpSent != nil {
		s.FollowUpSent = *c.FollowUpSent
	}
	s.LastInteractionAt = now
	s.Version++
}

// StatusPtr, IntPtr and BoolPtr build Changes fields inline.
func StatusPtr(s Status) *Status { return &s }
func IntPtr(i int) *int          { return &i }
func BoolPtr(b bool) *bool       { return &b }
