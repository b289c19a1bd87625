// ABOUTME: HTTP API handlers for triggering leads, delivering responses and reading state
// ABOUTME: Streams outbound conversation messages over SSE and serves the ledger report

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/coven-leads/internal/conversation"
	"github.com/2389/coven-leads/internal/report"
	"github.com/2389/coven-leads/internal/session"
	"github.com/2389/coven-leads/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// TriggerRequest is the JSON request body for POST /api/leads.
type TriggerRequest struct {
	LeadID string `json:"lead_id"`
	Name   string `json:"name"`
}

// TriggerResponse is the JSON response for POST /api/leads.
type TriggerResponse struct {
	LeadID  string                `json:"lead_id"`
	Message *conversation.Message `json:"message"`
}

// RespondRequest is the JSON request body for POST /api/leads/{id}/responses.
// MessageID is the provider's delivery id, used to drop redeliveries.
type RespondRequest struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// ListLeadsResponse is the JSON response for GET /api/leads.
type ListLeadsResponse struct {
	Leads  []*LeadView             `json:"leads"`
	Counts map[store.LeadStatus]int `json:"counts"`
}

// handleTrigger handles POST /api/leads.
func (g *Gateway) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.trigger(r.Context(), strings.TrimSpace(req.LeadID), req.Name)
	if err != nil {
		g.sendLeadError(w, req.LeadID, "trigger lead", err)
		return
	}

	g.writeJSON(w, http.StatusCreated, TriggerResponse{LeadID: msg.LeadID, Message: msg})
}

// handleRespond handles POST /api/leads/{id}/responses.
// A response that the conversation ignores still returns 200 with a null message.
func (g *Gateway) handleRespond(w http.ResponseWriter, r *http.Request) {
	leadID := r.PathValue("id")

	var req RespondRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := g.respond(r.Context(), leadID, req.Text, req.MessageID)
	if err != nil {
		g.sendLeadError(w, leadID, "handle response", err)
		return
	}

	g.writeJSON(w, http.StatusOK, res)
}

// sendLeadError maps a trigger or respond failure to a JSON error. A registry
// conflict means the engine broke its own serialization, so it is reported as
// an internal error like any other fault and never as a retryable conflict.
func (g *Gateway) sendLeadError(w http.ResponseWriter, leadID, op string, err error) {
	switch {
	case errors.Is(err, errMissingLeadID):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLeadFinished):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrRegistryConflict):
		g.logger.Error("registry conflict", "lead_id", leadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.logger.Error("failed to "+op, "lead_id", leadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleGetLead handles GET /api/leads/{id}.
func (g *Gateway) handleGetLead(w http.ResponseWriter, r *http.Request) {
	view, err := g.lookup(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrLeadNotFound) {
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to read lead", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, view)
}

// handleListLeads handles GET /api/leads?status=X&limit=N, reading from the ledger.
func (g *Gateway) handleListLeads(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLeadFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := g.store.ListLeads(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list leads", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	counts, err := g.store.CountLeadsByStatus(r.Context())
	if err != nil {
		g.logger.Error("failed to count leads", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListLeadsResponse{Leads: make([]*LeadView, 0, len(recs)), Counts: counts}
	for _, rec := range recs {
		resp.Leads = append(resp.Leads, recordView(rec))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func parseLeadFilter(r *http.Request) (store.LeadFilter, error) {
	var filter store.LeadFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		filter.Status = store.LeadStatus(s)
		if !filter.Status.Valid() {
			return filter, fmt.Errorf("unknown status %q", s)
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", l)
		}
		filter.Limit = n
	}
	return filter, nil
}

// handleLeadEvents handles GET /api/leads/{id}/events.
func (g *Gateway) handleLeadEvents(w http.ResponseWriter, r *http.Request) {
	g.streamMessages(w, r, r.PathValue("id"))
}

// handleAllEvents handles GET /api/events, streaming messages for every lead.
func (g *Gateway) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	g.streamMessages(w, r, conversation.AllLeads)
}

// streamMessages writes each outbound message for leadID as an SSE event
// named after its kind until the client leaves or the engine shuts down.
func (g *Gateway) streamMessages(w http.ResponseWriter, r *http.Request, leadID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	msgs, subID := g.engine.Broadcaster().Subscribe(ctx, leadID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "subscribed", map[string]string{"lead_id": leadID, "subscription_id": subID})
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				g.writeSSEEvent(w, "closed", map[string]string{"lead_id": leadID})
				flusher.Flush()
				return
			}
			g.writeSSEEvent(w, string(msg.Kind), msg)
			flusher.Flush()
		}
	}
}

// handleReport handles GET /report. ?format=md returns the raw Markdown.
func (g *Gateway) handleReport(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", l))
			return
		}
		limit = n
	}

	rep, err := report.Build(r.Context(), g.store, g.engine.Script().Fields(), limit, g.now())
	if err != nil {
		g.logger.Error("failed to build report", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write(rep.Markdown())
		return
	}

	page, err := rep.HTML()
	if err != nil {
		g.logger.Error("failed to render report", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// decodeJSON decodes a single JSON object, rejecting unknown fields.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
