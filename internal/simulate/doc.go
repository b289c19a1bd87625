// Package simulate drives synthetic leads through a conversation engine.
package simulate
