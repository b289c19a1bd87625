// ABOUTME: Pure conversation state machine: (session snapshot, event) -> decision
// ABOUTME: No locking and no I/O; the engine applies decisions under the lead's lock

package conversation

import (
	"strings"

	"github.com/2389/coven-leads/internal/lead"
	"github.com/2389/coven-leads/internal/script"
)

var (
	consentKeywords      = []string{"yes", "ok", "sure", "agree"}
	continuationKeywords = []string{"yes", "ok", "ready"}
)

// Reply is the outbound part of a decision.
type Reply struct {
	Kind MessageKind
	Text string
}

// Decision is what the engine should do in response to one event.
type Decision struct {
	// Reset replaces the session with a fresh pending_consent one named ResetName.
	Reset     bool
	ResetName string

	Changes lead.Changes
	Reply   *Reply
}

// Applied reports whether the decision changes any state.
func (d Decision) Applied() bool {
	return d.Reset || !d.Changes.Empty()
}

// Decide computes the transition for ev. s is nil when the lead has no session.
func Decide(sc *script.Script, s *lead.Session, ev lead.Event) Decision {
	if s != nil && s.Status.Terminal() {
		return Decision{}
	}

	switch ev := ev.(type) {
	case lead.Trigger:
		return Decision{
			Reset:     true,
			ResetName: ev.Name,
			Reply:     &Reply{Kind: KindGreeting, Text: sc.Greeting(ev.Name)},
		}

	case lead.Response:
		if s == nil {
			return Decision{}
		}
		return decideResponse(sc, s, ev.Text)

	case lead.IdleTick:
		if s == nil {
			return Decision{}
		}
		return decideIdle(sc, s, ev)
	}
	return Decision{}
}

func decideResponse(sc *script.Script, s *lead.Session, raw string) Decision {
	text := Normalize(raw)

	switch s.Status {
	case lead.StatusPendingConsent:
		if containsAny(text, consentKeywords) {
			return askQuestion(sc, 0, lead.Changes{
				Status:        lead.StatusPtr(lead.StatusActive),
				QuestionIndex: lead.IntPtr(0),
			})
		}
		return Decision{
			Changes: lead.Changes{
				Status:        lead.StatusPtr(lead.StatusDeclined),
				QuestionIndex: lead.IntPtr(lead.NoQuestion),
			},
			Reply: &Reply{Kind: KindDeclined, Text: sc.Declined(s.Name)},
		}

	case lead.StatusActive:
		idx, ok := s.CurrentQuestion(sc.Len())
		if !ok {
			return Decision{}
		}
		q, _ := sc.Question(idx)
		changes := lead.Changes{
			Answer:       &lead.Answer{Field: q.Field, Text: strings.TrimSpace(raw)},
			FollowUpSent: lead.BoolPtr(false),
		}
		if idx+1 < sc.Len() {
			changes.QuestionIndex = lead.IntPtr(idx + 1)
			return askQuestion(sc, idx+1, changes)
		}
		changes.Status = lead.StatusPtr(lead.StatusSecured)
		changes.QuestionIndex = lead.IntPtr(lead.NoQuestion)
		return Decision{
			Changes: changes,
			Reply:   &Reply{Kind: KindCompletion, Text: sc.Completion(s.Name)},
		}

	case lead.StatusFollowUp:
		if !containsAny(text, continuationKeywords) {
			return Decision{}
		}
		d := Decision{Changes: lead.Changes{
			Status:       lead.StatusPtr(lead.StatusActive),
			FollowUpSent: lead.BoolPtr(false),
		}}
		if idx, ok := s.CurrentQuestion(sc.Len()); ok {
			q, _ := sc.Question(idx)
			d.Reply = &Reply{Kind: KindQuestion, Text: q.Text}
		}
		return d
	}
	return Decision{}
}

func decideIdle(sc *script.Script, s *lead.Session, tick lead.IdleTick) Decision {
	if s.Status != lead.StatusActive && s.Status != lead.StatusFollowUp {
		return Decision{}
	}
	if s.FollowUpSent || tick.Now.Sub(s.LastInteractionAt) <= tick.Threshold {
		return Decision{}
	}
	return Decision{
		Changes: lead.Changes{
			Status:       lead.StatusPtr(lead.StatusFollowUp),
			FollowUpSent: lead.BoolPtr(true),
		},
		Reply: &Reply{Kind: KindFollowUp, Text: sc.FollowUp(s.Name)},
	}
}

func askQuestion(sc *script.Script, idx int, changes lead.Changes) Decision {
	q, _ := sc.Question(idx)
	return Decision{
		Changes: changes,
		Reply:   &Reply{Kind: KindQuestion, Text: q.Text},
	}
}

// Normalize lower-cases and trims inbound text before keyword matching.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
