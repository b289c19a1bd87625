// ABOUTME: Tests for SQLite ledger implementation
// ABOUTME: Covers upsert, last-write-wins ordering, listing, counting and both drivers

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "test.db"))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_CGODriver(t *testing.T) {
	store, err := Open(DriverCGO, filepath.Join(t.TempDir(), "cgo.db"))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") || strings.Contains(err.Error(), "cgo") {
			t.Skipf("cgo sqlite driver unavailable: %v", err)
		}
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.UpsertLead(ctx, &LeadRecord{LeadID: "l1", Name: "Ann", Status: LeadStatusActive}); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}
	got, err := store.GetLead(ctx, "l1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got.Status != LeadStatusActive {
		t.Errorf("Status = %q, want %q", got.Status, LeadStatusActive)
	}
}

func TestUpsertAndGetLead(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	rec := &LeadRecord{
		LeadID:  "lead-1",
		Name:    "Ann",
		Status:  LeadStatusActive,
		Answers: map[string]string{"age": "29"},
	}
	if err := store.UpsertLead(ctx, rec); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}
	if rec.LastUpdated.IsZero() {
		t.Error("UpsertLead did not stamp LastUpdated")
	}

	got, err := store.GetLead(ctx, "lead-1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got.Name != "Ann" {
		t.Errorf("Name = %q, want Ann", got.Name)
	}
	if got.Status != LeadStatusActive {
		t.Errorf("Status = %q, want %q", got.Status, LeadStatusActive)
	}
	if got.Answers["age"] != "29" {
		t.Errorf("Answers = %v, want age=29", got.Answers)
	}
	if !got.LastUpdated.Equal(rec.LastUpdated) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, rec.LastUpdated)
	}
}

func TestGetLead_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetLead(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertLead_RequiresID(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	if err := store.UpsertLead(context.Background(), &LeadRecord{Status: LeadStatusActive}); err == nil {
		t.Error("expected error for empty lead id")
	}
}

func TestUpsertLead_NilAnswersStoredEmpty(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.UpsertLead(ctx, &LeadRecord{LeadID: "l1", Name: "Ann", Status: LeadStatusPendingConsent}); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}
	got, err := store.GetLead(ctx, "l1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got.Answers == nil || len(got.Answers) != 0 {
		t.Errorf("Answers = %v, want empty map", got.Answers)
	}
}

func TestUpsertLead_OverwritesNewer(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	first := &LeadRecord{LeadID: "l1", Name: "Ann", Status: LeadStatusActive, LastUpdated: base}
	second := &LeadRecord{
		LeadID:      "l1",
		Name:        "Ann",
		Status:      LeadStatusSecured,
		Answers:     map[string]string{"age": "29", "country": "spain", "interest": "insurance"},
		LastUpdated: base.Add(time.Second),
	}
	if err := store.UpsertLead(ctx, first); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}
	if err := store.UpsertLead(ctx, second); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}

	got, err := store.GetLead(ctx, "l1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got.Status != LeadStatusSecured {
		t.Errorf("Status = %q, want secured", got.Status)
	}
	if len(got.Answers) != 3 {
		t.Errorf("Answers = %v, want 3 entries", got.Answers)
	}
}

func TestUpsertLead_StaleWriteIgnored(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	newer := &LeadRecord{LeadID: "l1", Name: "Ann", Status: LeadStatusSecured, LastUpdated: base.Add(time.Minute)}
	older := &LeadRecord{LeadID: "l1", Name: "Ann", Status: LeadStatusActive, LastUpdated: base}

	if err := store.UpsertLead(ctx, newer); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}
	if err := store.UpsertLead(ctx, older); err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}

	got, err := store.GetLead(ctx, "l1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got.Status != LeadStatusSecured {
		t.Errorf("stale write won: Status = %q, want secured", got.Status)
	}
}

func TestUpsertLead_ConcurrentLeads(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.UpsertLead(ctx, &LeadRecord{
				LeadID: fmt.Sprintf("lead-%02d", i),
				Name:   "L",
				Status: LeadStatusPendingConsent,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent UpsertLead failed: %v", err)
		}
	}

	leads, err := store.ListLeads(ctx, LeadFilter{})
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(leads) != n {
		t.Errorf("got %d leads, want %d", len(leads), n)
	}
}

func TestListLeads_FilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	records := []*LeadRecord{
		{LeadID: "a", Name: "A", Status: LeadStatusActive, LastUpdated: base},
		{LeadID: "b", Name: "B", Status: LeadStatusSecured, LastUpdated: base.Add(time.Minute)},
		{LeadID: "c", Name: "C", Status: LeadStatusActive, LastUpdated: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := store.UpsertLead(ctx, rec); err != nil {
			t.Fatalf("UpsertLead failed: %v", err)
		}
	}

	all, err := store.ListLeads(ctx, LeadFilter{})
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(all) != 3 || all[0].LeadID != "c" || all[2].LeadID != "a" {
		t.Errorf("unexpected order: %v", leadIDs(all))
	}

	active, err := store.ListLeads(ctx, LeadFilter{Status: LeadStatusActive})
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if got := leadIDs(active); len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Errorf("active = %v, want [c a]", got)
	}

	limited, err := store.ListLeads(ctx, LeadFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d leads", len(limited))
	}
}

func TestCountLeadsByStatus(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for i, status := range []LeadStatus{LeadStatusActive, LeadStatusActive, LeadStatusDeclined, LeadStatusFollowUpSent} {
		rec := &LeadRecord{LeadID: fmt.Sprintf("l%d", i), Name: "L", Status: status}
		if err := store.UpsertLead(ctx, rec); err != nil {
			t.Fatalf("UpsertLead failed: %v", err)
		}
	}

	counts, err := store.CountLeadsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountLeadsByStatus failed: %v", err)
	}
	if counts[LeadStatusActive] != 2 || counts[LeadStatusDeclined] != 1 || counts[LeadStatusFollowUpSent] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if counts[LeadStatusSecured] != 0 {
		t.Errorf("secured count = %d, want 0", counts[LeadStatusSecured])
	}
}

func TestUpsertLead_InvalidStatusRejected(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.UpsertLead(context.Background(), &LeadRecord{LeadID: "l1", Name: "Ann", Status: "bogus"})
	if err == nil {
		t.Error("expected CHECK constraint violation for unknown status")
	}
}

func leadIDs(recs []*LeadRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.LeadID
	}
	return ids
}
