// ABOUTME: Outbound message type produced by the conversation engine
// ABOUTME: Each accepted transition that speaks to the lead yields exactly one Message

package conversation

import "time"

// MessageKind classifies an outbound message.
type MessageKind string

const (
	KindGreeting   MessageKind = "greeting"
	KindQuestion   MessageKind = "question"
	KindCompletion MessageKind = "completion"
	KindDeclined   MessageKind = "declined"
	KindFollowUp   MessageKind = "follow_up"
)

// Message is text the engine wants delivered to a lead.
type Message struct {
	ID        string      `json:"id"`
	LeadID    string      `json:"lead_id"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}
