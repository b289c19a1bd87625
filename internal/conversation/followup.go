// ABOUTME: Background scheduler that nudges leads who went quiet mid-conversation
// ABOUTME: Scans the registry on a fixed interval and routes idle-ticks through the engine

package conversation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-leads/internal/lead"
	"github.com/2389/coven-leads/internal/session"
)

// Defaults used when Config leaves a duration unset.
const (
	DefaultFollowUpDelay = 24 * time.Hour
	DefaultCheckInterval = 30 * time.Minute
)

// idleStatuses are the statuses eligible for a follow-up nudge.
var idleStatuses = []lead.Status{lead.StatusActive, lead.StatusFollowUp}

// FollowUpScheduler periodically looks for idle leads and nudges them.
type FollowUpScheduler struct {
	engine   *Engine
	delay    time.Duration
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newFollowUpScheduler(e *Engine, delay, interval time.Duration, logger *slog.Logger) *FollowUpScheduler {
	if delay <= 0 {
		delay = DefaultFollowUpDelay
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &FollowUpScheduler{
		engine:   e,
		delay:    delay,
		interval: interval,
		logger:   logger.With("task", "followup"),
		done:     make(chan struct{}),
	}
}

// Start runs one check immediately and then every interval until Stop.
// Calling Start more than once has no effect.
func (s *FollowUpScheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
		s.logger.Info("follow-up scheduler started",
			"delay", s.delay,
			"check_interval", s.interval)
	})
}

// Stop signals the loop to exit and waits for any in-flight check to finish.
// It is safe to call multiple times, and before Start.
func (s *FollowUpScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *FollowUpScheduler) loop() {
	defer s.wg.Done()

	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Prefer stopping when both are ready.
			select {
			case <-s.done:
				return
			default:
			}
			s.RunOnce()
		case <-s.done:
			return
		}
	}
}

// RunOnce performs a single scan and returns the messages sent.
func (s *FollowUpScheduler) RunOnce() []*Message {
	now := s.engine.now()
	ids := s.engine.registry.ListIdle(idleStatuses, s.delay, now)
	if len(ids) == 0 {
		return nil
	}

	var sent []*Message
	for _, leadID := range ids {
		msg, err := s.engine.applyIdleTick(leadID, now, s.delay)
		if errors.Is(err, session.ErrRegistryConflict) {
			panic(err)
		}
		if err != nil {
			s.logger.Error("follow-up failed", "lead_id", leadID, "error", err)
			continue
		}
		if msg != nil {
			sent = append(sent, msg)
			s.logger.Info("follow-up sent", "lead_id", leadID)
		}
	}

	s.logger.Debug("follow-up check complete", "idle", len(ids), "sent", len(sent))
	return sent
}
