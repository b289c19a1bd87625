// ABOUTME: Concurrent in-memory registry of per-lead conversation sessions
// ABOUTME: Per-lead locking lets unrelated leads proceed in parallel while one lead is strictly serialized

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/coven-leads/internal/lead"
)

var (
	// ErrAlreadyExists is returned by Create when the lead already has a session.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrUnknownLead is returned when no session exists for the lead id.
	ErrUnknownLead = errors.New("unknown lead")

	// ErrRegistryConflict means a session was modified outside its critical
	// section. It indicates a bug and must never be ignored.
	ErrRegistryConflict = errors.New("registry conflict")
)

// entry guards one lead. session stays nil until a trigger installs one.
// removed is set, under both locks, once the entry is dropped from the map;
// a caller that locks a removed entry must look the lead up again.
type entry struct {
	mu      sync.Mutex
	session *lead.Session
	removed bool
}

// Registry is the single source of truth for conversation state.
// Lock order is always registry.mu before entry.mu.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used to stamp interactions.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// lookup returns the entry for leadID without creating it.
func (r *Registry) lookup(leadID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[leadID]
}

// lookupOrInsert returns the entry for leadID, inserting an empty one if needed.
func (r *Registry) lookupOrInsert(leadID string) *entry {
	if e := r.lookup(leadID); e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[leadID]
	if !ok {
		e = &entry{}
		r.entries[leadID] = e
	}
	return e
}

// lockLive returns the lead's current entry, inserting one if needed, with
// its lock held.
func (r *Registry) lockLive(leadID string) *entry {
	for {
		e := r.lookupOrInsert(leadID)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// dropIfEmpty removes e from the map if it still holds no session.
// Caller must not hold e.mu.
func (r *Registry) dropIfEmpty(leadID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil || e.removed || r.entries[leadID] != e {
		return
	}
	delete(r.entries, leadID)
	e.removed = true
}

// Create installs a new pending_consent session.
// Returns ErrAlreadyExists if the lead already has one.
func (r *Registry) Create(leadID, name string) (lead.Session, error) {
	e := r.lockLive(leadID)
	defer e.mu.Unlock()

	if e.session != nil {
		return lead.Session{}, ErrAlreadyExists
	}
	s := lead.New(leadID, name, r.now())
	e.session = &s

	r.logger.Debug("session created", "lead_id", leadID)
	return s.Clone(), nil
}

// Get returns a copy of the lead's session.
func (r *Registry) Get(leadID string) (lead.Session, bool) {
	e := r.lookup(leadID)
	if e == nil {
		return lead.Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return lead.Session{}, false
	}
	return e.session.Clone(), true
}

// Update applies a partial update and refreshes LastInteractionAt.
// Returns false if the lead is unknown.
func (r *Registry) Update(leadID string, changes lead.Changes) bool {
	err := r.Transact(leadID, func(tx *Tx) error {
		_, err := tx.Update(changes)
		return err
	})
	if errors.Is(err, ErrRegistryConflict) {
		panic(err)
	}
	return err == nil
}

// Transact runs fn with exclusive access to the lead's session. Every
// read-decide-write sequence on an existing session goes through here.
// Returns ErrUnknownLead if the lead has no session; otherwise returns fn's error.
func (r *Registry) Transact(leadID string, fn func(tx *Tx) error) error {
	e := r.lookup(leadID)
	if e == nil {
		return ErrUnknownLead
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return ErrUnknownLead
	}
	return r.run(leadID, e, fn)
}

// Claim is Transact for a lead that may not have a session yet. fn can call
// Tx.Reset to install one. A lead that fn declines to reset keeps no session
// and no entry. Like Transact, fn must not call back into the Registry.
func (r *Registry) Claim(leadID string, fn func(tx *Tx) error) error {
	e := r.lockLive(leadID)

	var empty bool
	err := func() error {
		defer e.mu.Unlock()
		err := r.run(leadID, e, fn)
		empty = e.session == nil
		return err
	}()

	if empty {
		r.dropIfEmpty(leadID, e)
	}
	return err
}

// run executes fn against e. Caller holds e.mu.
func (r *Registry) run(leadID string, e *entry, fn func(tx *Tx) error) error {
	tx := &Tx{registry: r, entry: e, leadID: leadID}
	if e.session != nil {
		tx.version = e.session.Version
	}
	defer func() { tx.closed = true }()
	return fn(tx)
}

// ListIdle returns, sorted by lead id, every lead whose status is in statuses,
// whose follow-up flag is clear and whose last interaction is more than
// threshold before now. Each session is read under its own lock, so a lead is
// never observed half-updated.
func (r *Registry) ListIdle(statuses []lead.Status, threshold time.Duration, now time.Time) []string {
	var idle []string
	for leadID, e := range r.entriesSnapshot() {
		e.mu.Lock()
		s := e.session
		match := s != nil &&
			slices.Contains(statuses, s.Status) &&
			!s.FollowUpSent &&
			now.Sub(s.LastInteractionAt) > threshold
		e.mu.Unlock()

		if match {
			idle = append(idle, leadID)
		}
	}
	slices.Sort(idle)
	return idle
}

// Snapshot returns copies of all sessions ordered by lead id.
func (r *Registry) Snapshot() []lead.Session {
	var out []lead.Session
	for _, e := range r.entriesSnapshot() {
		e.mu.Lock()
		if e.session != nil {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b lead.Session) int {
		switch {
		case a.LeadID < b.LeadID:
			return -1
		case a.LeadID > b.LeadID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of leads with a session.
func (r *Registry) Len() int {
	n := 0
	for _, e := range r.entriesSnapshot() {
		e.mu.Lock()
		if e.session != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// entriesSnapshot copies the entry table so callers can lock entries without
// holding the registry lock.
func (r *Registry) entriesSnapshot() map[string]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

// Tx is exclusive access to one lead for the duration of a Transact or Claim
// callback. It must not be retained after the callback returns.
type Tx struct {
	registry *Registry
	entry    *entry
	leadID   string
	version  uint64
	closed   bool
}

// LeadID returns the lead this transaction is bound to.
func (tx *Tx) LeadID() string {
	return tx.leadID
}

// Exists reports whether the lead currently has a session.
func (tx *Tx) Exists() bool {
	return tx.entry.session != nil
}

// Session returns a copy of the current session, or false if there is none.
func (tx *Tx) Session() (lead.Session, bool) {
	if tx.entry.session == nil {
		return lead.Session{}, false
	}
	return tx.entry.session.Clone(), true
}

// Now returns the registry clock's current time.
func (tx *Tx) Now() time.Time {
	return tx.registry.now()
}

// Update applies changes and returns the resulting session.
func (tx *Tx) Update(changes lead.Changes) (lead.Session, error) {
	if err := tx.check(); err != nil {
		return lead.Session{}, err
	}
	s := tx.entry.session
	if s == nil {
		return lead.Session{}, ErrUnknownLead
	}

	changes.Apply(s, tx.registry.now())
	tx.version = s.Version
	return s.Clone(), nil
}

// Reset installs a fresh pending_consent session, replacing any existing one.
func (tx *Tx) Reset(name string) (lead.Session, error) {
	if err := tx.check(); err != nil {
		return lead.Session{}, err
	}

	s := lead.New(tx.leadID, name, tx.registry.now())
	if prev := tx.entry.session; prev != nil {
		s.Version = prev.Version + 1
	}
	tx.entry.session = &s
	tx.version = s.Version
	return s.Clone(), nil
}

// check verifies the transaction is still live and nobody else touched the session.
func (tx *Tx) check() error {
	if tx.closed {
		return fmt.Errorf("%w: lead %s: transaction used after release", ErrRegistryConflict, tx.leadID)
	}
	var current uint64
	if tx.entry.session != nil {
		current = tx.entry.session.Version
	}
	if current != tx.version {
		return fmt.Errorf("%w: lead %s: version %d, expected %d", ErrRegistryConflict, tx.leadID, current, tx.version)
	}
	return nil
}
