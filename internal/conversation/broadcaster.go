// ABOUTME: In-memory fan-out broadcaster for outbound lead messages
// ABOUTME: Transports subscribe per lead id (or to all leads) and receive messages as the engine emits them

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllLeads subscribes to messages for every lead.
	AllLeads = "*"
)

// Broadcaster provides in-memory pub/sub for outbound Messages.
// Subscribers register for a lead id and receive every message the engine
// emits for that lead, including follow-up nudges produced by the scheduler.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Message // leadID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for messages to leadID, or AllLeads.
// Returns a channel that receives messages and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled. Subscribing to a closed broadcaster returns a closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context, leadID string) (<-chan *Message, string) {
	subID := uuid.New().String()
	ch := make(chan *Message, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[leadID]; !ok {
		b.subscribers[leadID] = make(map[string]chan *Message)
	}
	b.subscribers[leadID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "lead_id", leadID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(leadID, subID)
	}()

	return ch, subID
}

// Publish sends msg to subscribers of msg.LeadID and of AllLeads.
// Non-blocking: messages are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(msg *Message) {
	b.mu.RLock()
	var targets []chan *Message
	for _, key := range []string{msg.LeadID, AllLeads} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropped message for slow subscriber",
				"lead_id", msg.LeadID,
				"message_id", msg.ID)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(leadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[leadID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, leadID)
	}

	b.logger.Debug("subscriber removed", "lead_id", leadID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for leadID.
func (b *Broadcaster) SubscriberCount(leadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[leadID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for leadID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, leadID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
