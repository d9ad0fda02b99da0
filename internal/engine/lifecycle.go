// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jeranaias/knowflow-tui/internal/api"
	"github.com/jeranaias/knowflow-tui/internal/model"
	"github.com/jeranaias/knowflow-tui/internal/session"
	"github.com/jeranaias/knowflow-tui/internal/stream"
)

// readBufferSize is the chunk size for draining the stream body. Chunk
// boundaries are arbitrary; the framer handles any split.
const readBufferSize = 4 * 1024

// genericFailureText is shown when a turn fails without a server-supplied
// error message.
const genericFailureText = "Something went wrong. Please try again."

// ErrBusy indicates a Send was rejected because a turn is already in flight.
var ErrBusy = errors.New("a turn is already in flight")

// ErrEmptyMessage indicates a Send was rejected for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Backend issues the streaming chat request. Implemented by *api.Client.
type Backend interface {
	StreamChat(ctx context.Context, req api.ChatStreamRequest) (io.ReadCloser, error)
}

// Turn is a finished exchange handed to the transcript sink.
type Turn struct {
	ConversationID string
	SessionID      int64 // 0 when the turn ran unbound
	Outgoing       *model.Message
	Incoming       *model.Message
	State          TurnState
}

// TranscriptSink persists finished turns and reloads transcripts.
// Implemented by *storage.TranscriptStore.
type TranscriptSink interface {
	SaveTurn(ctx context.Context, turn Turn) error
	ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns one conversation: its message list, the session binding, and
// the active turn. All mutation of the open assistant message happens on
// the Send goroutine; accessors copy under the mutex.
type Engine struct {
	mu             sync.Mutex
	messages       []*model.Message
	conversationID string

	acc     *model.Accumulator
	coord   *session.Coordinator
	backend Backend
	sink    TranscriptSink

	// inFlight is the single-turn guard. Claimed by CAS at the top of
	// Send, released in a defer so every exit path clears it.
	inFlight atomic.Bool
	state    atomic.Int32

	// onDelta receives the rendered content after each applied delta,
	// for UI repaint. Called from the Send goroutine.
	onDelta func(rendered string)
}

// New creates an engine for a fresh conversation.
//
// backend may be nil, in which case Send fails before starting a turn.
// Callers holding a concrete client pointer must pass a nil Backend
// rather than wrapping a nil pointer in the interface.
func New(coord *session.Coordinator, backend Backend, sink TranscriptSink) *Engine {
	return &Engine{
		conversationID: uuid.NewString(),
		acc:            model.NewAccumulator(),
		coord:          coord,
		backend:        backend,
		sink:           sink,
	}
}

// SetOnDelta registers the per-delta repaint callback. Must be set before
// the first Send.
func (e *Engine) SetOnDelta(fn func(rendered string)) {
	e.onDelta = fn
}

// ConversationID returns the client-generated conversation id.
func (e *Engine) ConversationID() string {
	return e.conversationID
}

// State returns the current turn state.
func (e *Engine) State() TurnState {
	return TurnState(e.state.Load())
}

// InFlight reports whether a turn is active.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// Messages returns a snapshot of the conversation.
func (e *Engine) Messages() []*model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// =============================================================================
// SEND
// =============================================================================

// Send runs one full chat turn and returns its terminal state.
//
// The returned error is non-nil only when the turn never started (busy,
// blank input, no backend). Stream and request failures land the turn in
// StateFailed with a user-facing error in the assistant message.
//
// Cancelling ctx mid-stream lands the turn in StateCancelled; content
// accumulated so far is kept.
func (e *Engine) Send(ctx context.Context, text string) (TurnState, error) {
	if strings.TrimSpace(text) == "" {
		return StateIdle, ErrEmptyMessage
	}
	if e.backend == nil {
		return StateIdle, errors.New("no backend configured")
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return TurnState(e.state.Load()), ErrBusy
	}
	defer func() {
		// Idle must be restored before the guard releases, or the next
		// turn could observe this turn's terminal state.
		e.state.Store(int32(StateIdle))
		e.inFlight.Store(false)
	}()

	outgoing := model.NewOutgoingMessage(text)

	e.mu.Lock()
	e.messages = append(e.messages, outgoing)
	incoming := e.acc.Begin()
	e.messages = append(e.messages, incoming)
	e.mu.Unlock()

	e.state.Store(int32(StateSessionResolving))
	sessionID, bound := e.coord.Resolve(ctx, text)

	req := api.ChatStreamRequest{
		Content:        text,
		ConversationID: e.conversationID,
	}
	if bound {
		req.SessionID = &sessionID
	}

	e.state.Store(int32(StateRequesting))
	body, err := e.backend.StreamChat(ctx, req)
	if err != nil {
		terminal := e.finishRequestError(ctx, err)
		e.persistTurn(Turn{
			ConversationID: e.conversationID,
			SessionID:      sessionID,
			Outgoing:       outgoing,
			Incoming:       incoming,
			State:          terminal,
		})
		return terminal, nil
	}
	defer body.Close()

	e.state.Store(int32(StateStreaming))
	terminal := e.ingest(ctx, body)

	e.persistTurn(Turn{
		ConversationID: e.conversationID,
		SessionID:      sessionID,
		Outgoing:       outgoing,
		Incoming:       incoming,
		State:          terminal,
	})
	return terminal, nil
}

// finishRequestError closes the turn for a request that never streamed.
func (e *Engine) finishRequestError(ctx context.Context, err error) TurnState {
	if ctx.Err() != nil {
		e.acc.Complete()
		e.state.Store(int32(StateCancelled))
		return StateCancelled
	}

	text := genericFailureText
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		text = apiErr.Detail
	}
	log.Printf("engine: chat request failed: %v", err)
	e.acc.Fail(text)
	e.state.Store(int32(StateFailed))
	return StateFailed
}

// =============================================================================
// STREAM INGESTION
// =============================================================================

// ingest drains the response body through the framer and parser, applying
// events to the open message until a terminal event, EOF, or cancellation.
func (e *Engine) ingest(ctx context.Context, body io.Reader) TurnState {
	framer := stream.NewLineFramer()
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				if terminal, done := e.applyLine(line); done {
					return terminal
				}
			}
			if framer.Overflowed() {
				log.Printf("stream: line exceeded %d bytes without newline, aborting", stream.MaxLineSize)
				e.acc.Fail(genericFailureText)
				e.state.Store(int32(StateFailed))
				return StateFailed
			}
		}
		if readErr != nil {
			if tail, ok := framer.Flush(); ok {
				if terminal, done := e.applyLine(tail); done {
					return terminal
				}
			}

			if errors.Is(readErr, io.EOF) {
				// Stream ended without a sentinel: whatever arrived is
				// the complete reply.
				e.acc.Complete()
				e.state.Store(int32(StateCompleted))
				return StateCompleted
			}
			if ctx.Err() != nil {
				e.acc.Complete()
				e.state.Store(int32(StateCancelled))
				return StateCancelled
			}

			log.Printf("engine: stream read failed: %v", readErr)
			e.acc.Fail(genericFailureText)
			e.state.Store(int32(StateFailed))
			return StateFailed
		}
	}
}

// applyLine routes one framed line. done is true when the line closed the
// turn.
func (e *Engine) applyLine(line string) (TurnState, bool) {
	ev, ok := stream.ParseLine(line)
	if !ok {
		return StateStreaming, false
	}

	switch ev := ev.(type) {
	case stream.TextDelta:
		rendered := e.acc.ApplyDelta(ev.Delta)
		if e.onDelta != nil {
			e.onDelta(rendered)
		}
		return StateStreaming, false

	case stream.ErrorEvent:
		text := ev.ErrorText
		if text == "" {
			text = genericFailureText
		}
		e.acc.Fail(text)
		e.state.Store(int32(StateFailed))
		return StateFailed, true

	case stream.DoneSentinel:
		e.acc.Complete()
		e.state.Store(int32(StateCompleted))
		return StateCompleted, true

	default:
		// Unknown event types are ignored for forward compatibility.
		return StateStreaming, false
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistTurn hands the finished turn to the sink. Uses a fresh context so
// a cancelled turn still gets persisted.
func (e *Engine) persistTurn(turn Turn) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveTurn(context.Background(), turn); err != nil {
		log.Printf("engine: failed to persist turn: %v", err)
	}
}

// ReloadHistory replaces the in-memory transcript from the sink. It is a
// no-op while a turn is in flight so the open message is never clobbered.
func (e *Engine) ReloadHistory(ctx context.Context) error {
	if e.inFlight.Load() {
		return nil
	}
	if e.sink == nil {
		return nil
	}

	msgs, err := e.sink.ListMessages(ctx, e.conversationID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.messages = msgs
	e.mu.Unlock()
	return nil
}
