// ABOUTME: Tests for ledger types and helpers
// ABOUTME: Covers status classification, record cloning and list limits

package store

import "testing"

func TestLeadStatus_Terminal(t *testing.T) {
	tests := []struct {
		status LeadStatus
		want   bool
	}{
		{LeadStatusPendingConsent, false},
		{LeadStatusActive, false},
		{LeadStatusFollowUpSent, false},
		{LeadStatusSecured, true},
		{LeadStatusDeclined, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLeadStatus_Valid(t *testing.T) {
	for _, s := range []LeadStatus{LeadStatusPendingConsent, LeadStatusActive, LeadStatusFollowUpSent, LeadStatusSecured, LeadStatusDeclined} {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	for _, s := range []LeadStatus{"", "follow_up", "SECURED"} {
		if s.Valid() {
			t.Errorf("%q.Valid() = true", s)
		}
	}
}

func TestLeadRecord_Clone(t *testing.T) {
	rec := &LeadRecord{LeadID: "l1", Answers: map[string]string{"age": "29"}}
	c := rec.Clone()
	c.Answers["age"] = "30"
	if rec.Answers["age"] != "29" {
		t.Error("Clone shares the answers map")
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := map[int]int{0: 100, -5: 100, 10: 10, 1000: 1000, 5000: 1000}
	for in, want := range tests {
		if got := normalizeLimit(in); got != want {
			t.Errorf("normalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
