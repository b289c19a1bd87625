// Package session provides the in-memory registry of lead conversation state.
//
// # Locking
//
// The registry keeps one mutex per lead. The table of leads has its own
// RWMutex that is held only long enough to find or insert an entry, so
// operations on different leads never wait on each other. Operations on the
// same lead are totally ordered.
//
// # Transactions
//
// Transact and Claim hand a Tx to a callback that runs while the lead's lock is
// held:
//
//	err := reg.Transact(leadID, func(tx *session.Tx) error {
//	    s, _ := tx.Session()
//	    _, err := tx.Update(decide(s))
//	    return err
//	})
//
// A Tx detects use after release and concurrent modification, reporting
// ErrRegistryConflict in either case.
//
// # Idle scans
//
// ListIdle reads each session under its own lock and returns lead ids sorted,
// so a scan never sees a half-applied update.
package session
