// ABOUTME: Conversation engine: serializes events per lead, runs the state machine and projects to the ledger
// ABOUTME: Triggers, responses and scheduler idle-ticks all share the same atomic per-lead path

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-leads/internal/lead"
	"github.com/2389/coven-leads/internal/script"
	"github.com/2389/coven-leads/internal/session"
	"github.com/2389/coven-leads/internal/store"
)

// ErrAlreadyTerminal marks a trigger for a lead that already finished.
// The engine logs it and returns no message; it is never surfaced to the lead.
var ErrAlreadyTerminal = errors.New("lead already terminal")

// ledgerTimeout bounds each ledger call. Calls use a detached context so a
// cancelled request cannot skip the projection of a committed transition or
// the terminal check that guards a trigger.
const ledgerTimeout = 5 * time.Second

// LeadLedger defines what the engine needs from the ledger
type LeadLedger interface {
	UpsertLead(ctx context.Context, rec *store.LeadRecord) error
	GetLead(ctx context.Context, leadID string) (*store.LeadRecord, error)
}

// Config holds follow-up timing.
type Config struct {
	// FollowUpDelay is how long an active lead may stay quiet before a nudge.
	FollowUpDelay time.Duration

	// CheckInterval is how often the scheduler scans for idle leads.
	CheckInterval time.Duration
}

// Engine orchestrates lead conversations.
type Engine struct {
	registry    *session.Registry
	ledger      LeadLedger
	script      *script.Script
	broadcaster *Broadcaster
	scheduler   *FollowUpScheduler
	now         func() time.Time
	logger      *slog.Logger

	ledgerFailures atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithEngineClock sets the clock the scheduler uses to judge idleness.
// Pass the same clock given to the registry.
func WithEngineClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine. The scheduler is created but not started.
func New(cfg Config, registry *session.Registry, ledger LeadLedger, sc *script.Script, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		ledger:   ledger,
		script:   sc,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.broadcaster = NewBroadcaster(e.logger)
	e.logger = e.logger.With("component", "conversation")
	e.scheduler = newFollowUpScheduler(e, cfg.FollowUpDelay, cfg.CheckInterval, e.logger)
	return e
}

// Start launches the follow-up scheduler.
func (e *Engine) Start() {
	e.scheduler.Start()
}

// Shutdown stops the scheduler, waiting for any in-flight tick, then closes
// subscriber streams. Returns ctx.Err() if ctx expires first.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for follow-up scheduler: %w", ctx.Err())
	}

	e.broadcaster.Close()
	e.logger.Info("conversation engine stopped")
	return nil
}

// Broadcaster returns the outbound message fan-out.
func (e *Engine) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// Scheduler returns the follow-up scheduler.
func (e *Engine) Scheduler() *FollowUpScheduler {
	return e.scheduler
}

// Script returns the conversation script.
func (e *Engine) Script() *script.Script {
	return e.script
}

// Session returns a copy of the lead's session.
func (e *Engine) Session(leadID string) (lead.Session, bool) {
	return e.registry.Get(leadID)
}

// Sessions returns copies of every session ordered by lead id.
func (e *Engine) Sessions() []lead.Session {
	return e.registry.Snapshot()
}

// LedgerFailures returns how many ledger writes have failed since start.
func (e *Engine) LedgerFailures() int64 {
	return e.ledgerFailures.Load()
}

// HandleTrigger starts or restarts the conversation for leadID and returns
// the greeting. A lead already secured or declined is left untouched and
// nil is returned.
func (e *Engine) HandleTrigger(ctx context.Context, leadID, name string) (*Message, error) {
	if leadID == "" {
		return nil, fmt.Errorf("lead_id is required")
	}

	var msg *Message
	err := e.registry.Claim(leadID, func(tx *session.Tx) error {
		terminal, err := e.terminalInLedger(ctx, leadID)
		if err != nil {
			return err
		}
		if terminal {
			return ErrAlreadyTerminal
		}

		var current *lead.Session
		if s, ok := tx.Session(); ok {
			current = &s
		}
		d := Decide(e.script, current, lead.Trigger{Name: name})
		if !d.Reset {
			return ErrAlreadyTerminal
		}

		s, err := tx.Reset(d.ResetName)
		if err != nil {
			return err
		}
		e.project(s)
		msg = e.emit(tx, d.Reply)
		return nil
	})

	if errors.Is(err, ErrAlreadyTerminal) {
		e.logger.Info("ignoring trigger for finished lead", "lead_id", leadID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handling trigger for lead %s: %w", leadID, err)
	}

	e.logger.Info("conversation started", "lead_id", leadID)
	return msg, nil
}

// HandleResponse applies the lead's reply and returns the next message, if any.
// Responses for unknown leads are ignored.
func (e *Engine) HandleResponse(ctx context.Context, leadID, text string) (*Message, error) {
	msg, err := e.transition(leadID, lead.Response{Text: text})
	if errors.Is(err, session.ErrUnknownLead) {
		e.logger.Debug("ignoring response for unknown lead", "lead_id", leadID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handling response for lead %s: %w", leadID, err)
	}
	return msg, nil
}

// applyIdleTick nudges leadID if it is still idle when its lock is acquired.
// A response that raced ahead of the scan resets the interaction time, so the
// guard fails and nothing is sent.
func (e *Engine) applyIdleTick(leadID string, now time.Time, threshold time.Duration) (*Message, error) {
	msg, err := e.transition(leadID, lead.IdleTick{Now: now, Threshold: threshold})
	if errors.Is(err, session.ErrUnknownLead) {
		return nil, nil
	}
	return msg, err
}

// transition runs one event through the state machine under the lead's lock.
func (e *Engine) transition(leadID string, ev lead.Event) (*Message, error) {
	var msg *Message
	err := e.registry.Transact(leadID, func(tx *session.Tx) error {
		current, _ := tx.Session()
		d := Decide(e.script, &current, ev)
		if !d.Applied() {
			return nil
		}

		s, err := tx.Update(d.Changes)
		if err != nil {
			return err
		}
		e.project(s)
		msg = e.emit(tx, d.Reply)

		e.logger.Debug("lead transitioned",
			"lead_id", leadID,
			"from", current.Status,
			"to", s.Status,
			"question_index", s.QuestionIndex)
		return nil
	})
	return msg, err
}

// terminalInLedger reports whether the ledger already records leadID as
// finished. The lookup is detached from ctx like ledger writes are: a
// cancelled caller must not turn into "not terminal". Any failure other than
// ErrNotFound is returned so the trigger is refused rather than resetting a
// lead the ledger may record as secured or declined.
func (e *Engine) terminalInLedger(ctx context.Context, leadID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	rec, err := e.ledger.GetLead(ctx, leadID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		e.logger.Warn("ledger lookup failed, refusing trigger",
			"lead_id", leadID,
			"error", err)
		return false, fmt.Errorf("checking ledger: %w", err)
	}
	return rec.Status.Terminal(), nil
}

// project writes the session snapshot to the ledger. Caller holds the lead's lock.
func (e *Engine) project(s lead.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	rec := &store.LeadRecord{
		LeadID:  s.LeadID,
		Name:    s.Name,
		Status:  LedgerStatus(s.Status),
		Answers: s.Answers,
	}
	if err := e.ledger.UpsertLead(ctx, rec); err != nil {
		e.ledgerFailures.Add(1)
		e.logger.Error("failed to write ledger record",
			"lead_id", s.LeadID,
			"status", rec.Status,
			"error", err)
	}
}

// emit builds and publishes the outbound message. Caller holds the lead's lock
// so subscribers see a lead's messages in transition order.
func (e *Engine) emit(tx *session.Tx, r *Reply) *Message {
	if r == nil {
		return nil
	}
	msg := &Message{
		ID:        uuid.New().String(),
		LeadID:    tx.LeadID(),
		Kind:      r.Kind,
		Text:      r.Text,
		CreatedAt: tx.Now(),
	}
	e.broadcaster.Publish(msg)
	return msg
}

// LedgerStatus maps a session status to the status recorded in the ledger.
func LedgerStatus(s lead.Status) store.LeadStatus {
	switch s {
	case lead.StatusPendingConsent:
		return store.LeadStatusPendingConsent
	case lead.StatusActive:
		return store.LeadStatusActive
	case lead.StatusFollowUp:
		return store.LeadStatusFollowUpSent
	case lead.StatusSecured:
		return store.LeadStatusSecured
	case lead.StatusDeclined:
		return store.LeadStatusDeclined
	}
	return store.LeadStatus(s)
}
