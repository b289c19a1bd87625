// Package dedupe drops redelivered inbound lead messages.
//
// SMS and chat providers retry webhooks, so the same reply can arrive more
// than once. The gateway records each (lead id, provider message id) pair
// here before calling the engine and ignores pairs seen within the TTL.
package dedupe
