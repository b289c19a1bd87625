// ABOUTME: Transport-neutral lead operations shared by the HTTP and gRPC surfaces
// ABOUTME: Applies delivery dedupe around the engine and merges session and ledger views

package gateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/2389/coven-leads/internal/auth"
	"github.com/2389/coven-leads/internal/conversation"
	"github.com/2389/coven-leads/internal/store"
)

var (
	// ErrLeadNotFound is returned when neither the registry nor the ledger knows a lead.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrLeadFinished is returned when a trigger targets a secured or declined lead.
	ErrLeadFinished = errors.New("lead already secured or declined")

	errMissingLeadID = errors.New("lead_id is required")
)

// LeadView is the externally visible state of one lead.
type LeadView struct {
	LeadID        string            `json:"lead_id"`
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	QuestionIndex *int              `json:"question_index,omitempty"`
	Answers       map[string]string `json:"answers"`
	FollowUpSent  bool              `json:"follow_up_sent"`
	LastUpdated   time.Time         `json:"last_updated"`

	// Live is true when the view comes from an in-memory session rather than the ledger.
	Live bool `json:"live"`
}

// RespondResult is the outcome of delivering one inbound response.
type RespondResult struct {
	LeadID    string                `json:"lead_id"`
	Duplicate bool                  `json:"duplicate"`
	Message   *conversation.Message `json:"message"`
}

// trigger starts a conversation. A finished lead yields ErrLeadFinished.
func (g *Gateway) trigger(ctx context.Context, leadID, name string) (*conversation.Message, error) {
	if leadID == "" {
		return nil, errMissingLeadID
	}

	msg, err := g.engine.HandleTrigger(ctx, leadID, name)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrLeadFinished
	}

	g.logger.Info("lead triggered", "lead_id", leadID, "source", auth.SourceFromContext(ctx))
	return msg, nil
}

// respond delivers a response. A non-empty messageID already seen for this
// lead within the dedupe window is dropped and reported as a duplicate.
func (g *Gateway) respond(ctx context.Context, leadID, text, messageID string) (*RespondResult, error) {
	if leadID == "" {
		return nil, errMissingLeadID
	}

	res := &RespondResult{LeadID: leadID}
	if messageID != "" && g.dedupe.Seen(leadID, messageID) {
		g.logger.Debug("dropping duplicate response", "lead_id", leadID, "message_id", messageID)
		res.Duplicate = true
		return res, nil
	}

	msg, err := g.engine.HandleResponse(ctx, leadID, text)
	if err != nil {
		// Let the provider retry this delivery.
		if messageID != "" {
			g.dedupe.Forget(leadID, messageID)
		}
		return nil, err
	}
	res.Message = msg
	return res, nil
}

// lookup prefers the live session and falls back to the ledger.
func (g *Gateway) lookup(ctx context.Context, leadID string) (*LeadView, error) {
	if s, ok := g.engine.Session(leadID); ok {
		v := &LeadView{
			LeadID:       s.LeadID,
			Name:         s.Name,
			Status:       string(conversation.LedgerStatus(s.Status)),
			Answers:      maps.Clone(s.Answers),
			FollowUpSent: s.FollowUpSent,
			LastUpdated:  s.LastInteractionAt,
			Live:         true,
		}
		if v.Answers == nil {
			v.Answers = map[string]string{}
		}
		if s.QuestionIndex >= 0 {
			idx := s.QuestionIndex
			v.QuestionIndex = &idx
		}
		return v, nil
	}

	rec, err := g.store.GetLead(ctx, leadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading lead %s: %w", leadID, err)
	}
	return recordView(rec), nil
}

func recordView(rec *store.LeadRecord) *LeadView {
	v := &LeadView{
		LeadID:       rec.LeadID,
		Name:         rec.Name,
		Status:       string(rec.Status),
		Answers:      rec.Answers,
		FollowUpSent: rec.Status == store.LeadStatusFollowUpSent,
		LastUpdated:  rec.LastUpdated,
	}
	if v.Answers == nil {
		v.Answers = map[string]string{}
	}
	return v
}
