// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

// TurnState is the lifecycle phase of a chat turn.
//
// Transitions run strictly forward: Idle, SessionResolving, Requesting,
// Streaming, then exactly one of the terminal states. A new turn resets to
// Idle only after the previous one has landed.
type TurnState int32

const (
	// StateIdle means no turn is active.
	StateIdle TurnState = iota
	// StateSessionResolving means the session binding is being resolved.
	StateSessionResolving
	// StateRequesting means the chat request is being issued.
	StateRequesting
	// StateStreaming means response events are being ingested.
	StateStreaming
	// StateCompleted is the successful terminal state.
	StateCompleted
	// StateFailed is the terminal state for request or stream errors.
	StateFailed
	// StateCancelled is the terminal state for a user-cancelled turn.
	StateCancelled
)

// String returns the state name for status lines and persistence.
func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionResolving:
		return "session_resolving"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a turn.
func (s TurnState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ParseTurnState maps a persisted state name back to a TurnState. Unknown
// names land on StateCompleted so old transcripts stay readable.
func ParseTurnState(name string) TurnState {
	switch name {
	case "failed":
		return StateFailed
	case "cancelled":
		return StateCancelled
	default:
		return StateCompleted
	}
}
