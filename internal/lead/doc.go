// Package lead defines the domain model shared by the registry, the state
// machine and the engine.
//
// A Session moves through a fixed sequence of statuses:
//
//	pending_consent -> active -> ... -> secured
//	pending_consent -> declined
//	active <-> follow_up
//
// secured and declined are terminal. Changes describes a partial update and is
// the only way session fields are modified once a session exists.
package lead
