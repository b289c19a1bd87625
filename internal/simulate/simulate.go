// ABOUTME: Concurrent synthetic-lead driver for exercising the conversation engine
// ABOUTME: Each lead follows a scripted behaviour with think-time delays; follow-ups are observed via the broadcaster

package simulate

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-leads/internal/conversation"
)

// Behavior is a scripted lead personality.
type Behavior string

const (
	Fast      Behavior = "fast"
	Slow      Behavior = "slow"
	Decliner  Behavior = "decliner"
	Abandoner Behavior = "abandoner"
	Normal    Behavior = "normal"
)

// Behaviors lists every behaviour in a stable order.
var Behaviors = []Behavior{Fast, Slow, Decliner, Abandoner, Normal}

// ParseBehavior returns the named behaviour.
func ParseBehavior(s string) (Behavior, error) {
	for _, b := range Behaviors {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown behavior %q", s)
}

// turn is one lead reply, sent after waiting ticks.
type turn struct {
	text  string
	ticks int
}

func (b Behavior) turns() []turn {
	switch b {
	case Fast:
		return []turn{{"yes", 0}, {"30", 0}, {"USA", 0}, {"SaaS", 0}}
	case Slow:
		// The long pause lets the follow-up scheduler nudge the lead.
		return []turn{{"yes", 0}, {"45", 25}, {"Canada", 0}, {"AI tools", 0}}
	case Decliner:
		return []turn{{"no thanks", 0}}
	case Abandoner:
		return []turn{{"yes", 0}, {"28", 0}}
	default:
		return []turn{{"yes", 1}, {"35", 2}, {"UK", 1}, {"Consulting", 0}}
	}
}

// Result summarizes one simulated lead.
type Result struct {
	LeadID    string
	Name      string
	Behavior  Behavior
	Duration  time.Duration
	Completed bool
	FollowUps int
}

// Options configures a run.
type Options struct {
	// Leads is the number of concurrent leads.
	Leads int

	// Tick is one unit of think time.
	Tick time.Duration

	// Behaviors, when set, assigns Behaviors[i%len] to lead i. Otherwise
	// behaviours are drawn from Rand.
	Behaviors []Behavior
	Rand      *rand.Rand

	// Transcript receives one line per message when non-nil.
	Transcript io.Writer
}

// Run drives opts.Leads concurrent conversations through engine and returns
// one result per lead in lead order. The engine's scheduler should already be
// running for follow-ups to occur.
func Run(ctx context.Context, engine *conversation.Engine, opts Options) ([]Result, error) {
	if opts.Leads <= 0 {
		return nil, fmt.Errorf("leads must be positive, got %d", opts.Leads)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	s := &simulator{
		engine:     engine,
		runID:      uuid.NewString()[:8],
		transcript: opts.Transcript,
		tick:       opts.Tick,
		followUps:  make(map[string]int),
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := s.watchFollowUps(watchCtx)

	results := make([]Result, opts.Leads)
	var wg sync.WaitGroup
	for i := range opts.Leads {
		b := s.pick(i, opts)
		wg.Go(func() {
			results[i] = s.lead(ctx, i+1, b)
		})
	}
	wg.Wait()

	stopWatch()
	<-watchDone

	s.mu.Lock()
	for i := range results {
		results[i].FollowUps = s.followUps[results[i].LeadID]
	}
	s.mu.Unlock()

	return results, ctx.Err()
}

type simulator struct {
	engine     *conversation.Engine
	runID      string
	tick       time.Duration
	transcript io.Writer

	mu        sync.Mutex
	followUps map[string]int
}

func (s *simulator) pick(i int, opts Options) Behavior {
	if len(opts.Behaviors) > 0 {
		return opts.Behaviors[i%len(opts.Behaviors)]
	}
	return Behaviors[opts.Rand.IntN(len(Behaviors))]
}

// watchFollowUps counts scheduler nudges for this run's leads.
func (s *simulator) watchFollowUps(ctx context.Context) <-chan struct{} {
	msgs, _ := s.engine.Broadcaster().Subscribe(ctx, conversation.AllLeads)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			if msg.Kind != conversation.KindFollowUp {
				continue
			}
			s.mu.Lock()
			s.followUps[msg.LeadID]++
			s.mu.Unlock()
			s.log(msg.LeadID, "Agent", msg.Text)
		}
	}()
	return done
}

func (s *simulator) lead(ctx context.Context, n int, b Behavior) Result {
	res := Result{
		LeadID:   fmt.Sprintf("%s-%02d", s.runID, n),
		Name:     fmt.Sprintf("Lead-%d", n),
		Behavior: b,
	}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	reply, err := s.engine.HandleTrigger(ctx, res.LeadID, res.Name)
	if err != nil {
		s.log(res.LeadID, "error", err.Error())
		return res
	}
	if reply == nil {
		s.log(res.LeadID, "error", "trigger rejected")
		return res
	}
	s.log(res.LeadID, "Agent", reply.Text)

	for _, t := range b.turns() {
		if !s.sleep(ctx, t.ticks) {
			return res
		}

		s.log(res.LeadID, res.Name, t.text)
		reply, err = s.engine.HandleResponse(ctx, res.LeadID, t.text)
		if err != nil {
			s.log(res.LeadID, "error", err.Error())
			return res
		}
		if reply == nil {
			return res
		}
		s.log(res.LeadID, "Agent", reply.Text)
	}

	res.Completed = reply.Kind == conversation.KindCompletion
	return res
}

func (s *simulator) sleep(ctx context.Context, ticks int) bool {
	if ticks == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(time.Duration(ticks) * s.tick)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *simulator) log(leadID, sender, text string) {
	if s.transcript == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.transcript, "[%s] Lead %s: %s: %s\n", time.Now().Format("15:04:05"), leadID, sender, text)
}
