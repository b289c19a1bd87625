// ABOUTME: Inbound events that drive a lead's conversation
// ABOUTME: Trigger starts a conversation, Response carries lead text, IdleTick comes from the scheduler

package lead

import "time"

// Event is one of Trigger, Response or IdleTick.
type Event interface {
	event()
}

// Trigger starts (or restarts) a conversation, e.g. a form submission.
type Trigger struct {
	Name string
}

// Response is free-form text sent by the lead.
type Response struct {
	Text string
}

// IdleTick is synthesized by the follow-up scheduler for a lead that has been
// quiet for longer than Threshold as of Now.
type IdleTick struct {
	Now       time.Time
	Threshold time.Duration
}

func (Trigger) event()  {}
func (Response) event() {}
func (IdleTick) event() {}
