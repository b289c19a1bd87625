// ABOUTME: Ledger interface and record types for coven-leads persistence
// ABOUTME: The ledger is an upsert-by-id projection of lead state used for reporting and the terminal gate

package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrNotFound is returned when a requested lead does not exist
var ErrNotFound = errors.New("not found")

// LeadStatus is the status recorded in the ledger. It mirrors the session
// status except that a sent follow-up is recorded as follow_up_sent.
type LeadStatus string

const (
	LeadStatusPendingConsent LeadStatus = "pending_consent"
	LeadStatusActive         LeadStatus = "active"
	LeadStatusFollowUpSent   LeadStatus = "follow_up_sent"
	LeadStatusSecured        LeadStatus = "secured"
	LeadStatusDeclined       LeadStatus = "declined"
)

// Terminal reports whether the recorded lead has finished its conversation.
func (s LeadStatus) Terminal() bool {
	return s == LeadStatusSecured || s == LeadStatusDeclined
}

// Valid reports whether s is one of the known statuses.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusPendingConsent, LeadStatusActive, LeadStatusFollowUpSent,
		LeadStatusSecured, LeadStatusDeclined:
		return true
	}
	return false
}

// LeadRecord is a flattened snapshot of one lead
type LeadRecord struct {
	LeadID  string
	Name    string
	Status  LeadStatus
	Answers map[string]string

	// LastUpdated is stamped by the store at write time when left zero.
	// Concurrent upserts to the same lead resolve to the latest LastUpdated.
	LastUpdated time.Time
}

// Clone returns a deep copy of the record.
func (r *LeadRecord) Clone() *LeadRecord {
	c := *r
	c.Answers = maps.Clone(r.Answers)
	return &c
}

// LeadFilter narrows ListLeads results
type LeadFilter struct {
	Status LeadStatus // empty matches all
	Limit  int        // 0 uses the default of 100, capped at 1000
}

// Ledger is the narrow upsert/lookup contract the conversation engine uses.
type Ledger interface {
	UpsertLead(ctx context.Context, rec *LeadRecord) error
	GetLead(ctx context.Context, leadID string) (*LeadRecord, error)
}

// Store is the full ledger surface used by reporting and the CLI.
type Store interface {
	Ledger

	// ListLeads returns records ordered by most recent update first.
	ListLeads(ctx context.Context, filter LeadFilter) ([]*LeadRecord, error)

	// CountLeadsByStatus returns the number of leads per status.
	CountLeadsByStatus(ctx context.Context) (map[LeadStatus]int, error)

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies the default and maximum list sizes.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
