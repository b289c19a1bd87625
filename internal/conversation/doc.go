// Package conversation runs automated lead qualification conversations.
//
// # Overview
//
// A conversation has three phases: consent, a fixed list of questions, and
// completion. Leads that go quiet partway through get one follow-up nudge.
//
//	trigger  -> pending_consent  (greeting)
//	"yes"    -> active, q0       (first question)
//	answer   -> active, q1..qn   (next question)
//	answer   -> secured          (completion)
//	"no"     -> declined         (acknowledgment)
//	idle     -> follow_up        (nudge)
//	"ready"  -> active           (current question again)
//
// secured and declined are terminal.
//
// # Components
//
//   - Decide: pure state machine over (session snapshot, event)
//   - Engine: HandleTrigger and HandleResponse entry points
//   - FollowUpScheduler: periodic idle scan feeding idle-ticks to the engine
//   - Broadcaster: fan-out of outbound messages to transports
//
// # Concurrency
//
// Every event for a lead runs as one unit under that lead's registry lock:
// read the session, decide, write the session, write the ledger, publish the
// message. Different leads never wait on each other. The scheduler goes
// through the same path, so a nudge and a response for the same lead are
// strictly ordered and the idle guard is re-checked under the lock.
//
// # Ledger
//
// After each accepted transition the session is projected to the ledger
// with a detached timeout. Failed writes are logged and counted but the
// transition stands; the registry is authoritative. The ledger is read
// only to refuse triggers for leads that already finished.
package conversation
