// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/knowflow-tui/internal/api"
	"github.com/jeranaias/knowflow-tui/internal/model"
	"github.com/jeranaias/knowflow-tui/internal/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingSink captures persisted turns.
type recordingSink struct {
	mu     sync.Mutex
	turns  []Turn
	stored []*model.Message
}

func (s *recordingSink) SaveTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *recordingSink) ListMessages(_ context.Context, _ string) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored, nil
}

func (s *recordingSink) lastTurn(t *testing.T) Turn {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.turns)
	return s.turns[len(s.turns)-1]
}

// streamServer serves canned event lines on /chat/stream and optionally
// smart session creation.
func streamServer(t *testing.T, lines []string) (*httptest.Server, *api.Client) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			io.WriteString(w, line+"\n")
		}
	}))
	t.Cleanup(server.Close)
	return server, api.NewClient(server.URL)
}

func newTestEngine(client *api.Client, sink TranscriptSink) *Engine {
	// A nil *api.Client must become a nil Backend, not a typed nil
	// wrapped in the interface.
	var backend Backend
	if client != nil {
		backend = client
	}
	return New(session.NewCoordinator(nil, nil), backend, sink)
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestSendAccumulatesDeltasInOrder(t *testing.T) {
	_, client := streamServer(t, []string{
		`data: {"type":"text-delta","delta":"Hel"}`,
		`data: {"type":"text-delta","delta":"lo"}`,
		`data: {"type":"text-delta","delta":" world"}`,
		`data: [DONE]`,
	})

	sink := &recordingSink{}
	eng := newTestEngine(client, sink)

	var renders []string
	eng.SetOnDelta(func(rendered string) { renders = append(renders, rendered) })

	state, err := eng.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)

	msgs := eng.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, model.RoleOutgoing, msgs[0].Role)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, model.RoleIncoming, msgs[1].Role)
	require.Equal(t, "Hello world", msgs[1].Content)
	require.False(t, msgs[1].Loading())

	// The sentinel never reaches content, and each delta repainted.
	require.NotContains(t, msgs[1].Content, "[DONE]")
	require.Equal(t, []string{"Hel", "Hello", "Hello world"}, renders)

	turn := sink.lastTurn(t)
	require.Equal(t, StateCompleted, turn.State)
	require.Zero(t, turn.SessionID)
}

func TestSendTreatsEOFWithoutSentinelAsComplete(t *testing.T) {
	_, client := streamServer(t, []string{
		`data: {"type":"text-delta","delta":"partial"}`,
	})

	eng := newTestEngine(client, &recordingSink{})
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, "partial", eng.Messages()[1].Content)
}

func TestSendHandlesFinalLineWithoutNewline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Last line has no trailing newline; the framer flush must
		// still deliver it.
		io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"tail\"}")
	}))
	t.Cleanup(server.Close)

	eng := newTestEngine(api.NewClient(server.URL), &recordingSink{})
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, "tail", eng.Messages()[1].Content)
}

// =============================================================================
// MALFORMED AND UNKNOWN EVENTS
// =============================================================================

func TestSendToleratesMalformedAndUnknownLines(t *testing.T) {
	_, client := streamServer(t, []string{
		`data: {"type":"text-delta","delta":"a"}`,
		`data: {not valid json`,
		`: heartbeat comment`,
		`data: {"type":"reasoning-delta","delta":"thinking"}`,
		``,
		`data: {"type":"text-delta","delta":"b"}`,
		`data: [DONE]`,
	})

	eng := newTestEngine(client, &recordingSink{})
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, "ab", eng.Messages()[1].Content)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSendErrorEventFailsTurnWithServerText(t *testing.T) {
	_, client := streamServer(t, []string{
		`data: {"type":"text-delta","delta":"half a sen"}`,
		`data: {"type":"error","errorText":"model overloaded"}`,
	})

	sink := &recordingSink{}
	eng := newTestEngine(client, sink)
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateFailed, state)

	// Partial content is replaced by the server's error text.
	incoming := eng.Messages()[1]
	require.Equal(t, "model overloaded", incoming.Content)
	require.False(t, incoming.Loading())
	require.Equal(t, StateFailed, sink.lastTurn(t).State)
}

func TestSendHTTPErrorFailsTurn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"detail":"upstream refused"}`)
	}))
	t.Cleanup(server.Close)

	eng := newTestEngine(api.NewClient(server.URL), &recordingSink{})
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.Equal(t, "upstream refused", eng.Messages()[1].Content)
}

func TestSendConnectionFailureUsesGenericText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	eng := newTestEngine(api.NewClient(server.URL), &recordingSink{})
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.Equal(t, genericFailureText, eng.Messages()[1].Content)
}

func TestSendRejectsEmptyInput(t *testing.T) {
	eng := newTestEngine(nil, nil)

	_, err := eng.Send(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, eng.Messages())
}

func TestSendWithoutBackend(t *testing.T) {
	eng := newTestEngine(nil, nil)

	_, err := eng.Send(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no backend")
	require.Empty(t, eng.Messages())
	require.False(t, eng.InFlight())
}

// =============================================================================
// SINGLE IN-FLIGHT GUARD
// =============================================================================

func TestSendRejectsOverlappingTurn(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"slow\"}\n")
		w.(http.Flusher).Flush()
		close(entered)
		<-release
		io.WriteString(w, "data: [DONE]\n")
	}))
	t.Cleanup(server.Close)

	eng := newTestEngine(api.NewClient(server.URL), &recordingSink{})

	done := make(chan TurnState, 1)
	go func() {
		state, _ := eng.Send(context.Background(), "first")
		done <- state
	}()

	<-entered
	_, err := eng.Send(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.Equal(t, StateCompleted, <-done)

	// The rejected send added nothing.
	msgs := eng.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "slow", msgs[1].Content)
}

// TestMessagesReadableWhileStreaming polls the transcript from another
// goroutine the way the render loop does, while deltas are still being
// applied. Run with -race; the message accessors must synchronize the two
// sides.
func TestMessagesReadableWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for {
			select {
			case <-release:
				io.WriteString(w, "data: [DONE]\n")
				return
			default:
				io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"x\"}\n")
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(server.Close)

	eng := newTestEngine(api.NewClient(server.URL), &recordingSink{})

	deltaSeen := make(chan struct{})
	var once sync.Once
	eng.SetOnDelta(func(string) { once.Do(func() { close(deltaSeen) }) })

	done := make(chan TurnState, 1)
	go func() {
		state, _ := eng.Send(context.Background(), "hi")
		done <- state
	}()

	<-deltaSeen
	for i := 0; i < 1000; i++ {
		for _, msg := range eng.Messages() {
			_ = msg.Loading()
			_ = msg.DisplayContent()
		}
	}
	close(release)

	select {
	case state := <-done:
		require.Equal(t, StateCompleted, state)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish")
	}
	require.False(t, eng.Messages()[1].Loading())
}

func TestStateReturnsToIdleAfterTerminal(t *testing.T) {
	_, client := streamServer(t, []string{
		`data: {"type":"text-delta","delta":"done"}`,
		`data: [DONE]`,
	})

	eng := newTestEngine(client, &recordingSink{})

	state, err := eng.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)

	// The terminal state is reported to the caller; the engine itself
	// rests at Idle once the guard releases.
	require.Equal(t, StateIdle, eng.State())
	require.False(t, eng.InFlight())
}

// =============================================================================
// SESSION BINDING
// =============================================================================

func TestSendCreatesSessionLazilyOnce(t *testing.T) {
	var mu sync.Mutex
	creations := 0
	var streamBodies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/sessions/smart":
			mu.Lock()
			creations++
			mu.Unlock()
			io.WriteString(w, `{"success":true,"data":{"id":31,"name":"Kyoto"}}`)
		case "/chat/stream":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			streamBodies = append(streamBodies, string(body))
			mu.Unlock()
			io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"ok\"}\ndata: [DONE]\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client := api.NewClient(server.URL)
	coord := session.NewCoordinator(client, client)
	sink := &recordingSink{}
	eng := New(coord, client, sink)

	state, err := eng.Send(context.Background(), "plan a trip to Kyoto")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)

	state, err = eng.Send(context.Background(), "now book it")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, creations)
	require.Len(t, streamBodies, 2)
	require.Contains(t, streamBodies[0], `"session_id":31`)
	require.Contains(t, streamBodies[1], `"session_id":31`)
	require.Equal(t, int64(31), sink.lastTurn(t).SessionID)
}

func TestSendWithoutCreatorStreamsUnbound(t *testing.T) {
	var rawBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rawBody = string(body)
		io.WriteString(w, "data: [DONE]\n")
	}))
	t.Cleanup(server.Close)

	eng := newTestEngine(api.NewClient(server.URL), &recordingSink{})
	state, err := eng.Send(context.Background(), "hi")

	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.NotContains(t, rawBody, "session_id")
}

func TestSendSessionCreationFailureStillStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/sessions/smart":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/chat/stream":
			io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"still works\"}\ndata: [DONE]\n")
		}
	}))
	t.Cleanup(server.Close)

	client := api.NewClient(server.URL)
	eng := New(session.NewCoordinator(client, client), client, &recordingSink{})

	state, err := eng.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, "still works", eng.Messages()[1].Content)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestSendCancellationKeepsPartialContent(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"partial answer\"}\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	sink := &recordingSink{}
	eng := newTestEngine(api.NewClient(server.URL), sink)

	ctx, cancel := context.WithCancel(context.Background())
	deltaSeen := make(chan struct{})
	var once sync.Once
	eng.SetOnDelta(func(string) { once.Do(func() { close(deltaSeen) }) })

	done := make(chan TurnState, 1)
	go func() {
		state, _ := eng.Send(ctx, "hi")
		done <- state
	}()

	<-deltaSeen
	cancel()

	select {
	case state := <-done:
		require.Equal(t, StateCancelled, state)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return after cancellation")
	}

	incoming := eng.Messages()[1]
	require.Equal(t, "partial answer", incoming.Content)
	require.False(t, incoming.Loading())
	require.Equal(t, StateCancelled, sink.lastTurn(t).State)
	require.False(t, eng.InFlight())
}

// =============================================================================
// HISTORY RELOAD
// =============================================================================

func TestReloadHistoryReplacesTranscript(t *testing.T) {
	sink := &recordingSink{stored: []*model.Message{
		model.RestoreMessage("m1", model.RoleOutgoing, "old question", time.Now()),
		model.RestoreMessage("m2", model.RoleIncoming, "old answer", time.Now()),
	}}

	eng := newTestEngine(nil, sink)
	require.NoError(t, eng.ReloadHistory(context.Background()))

	msgs := eng.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "old answer", msgs[1].Content)
}

func TestReloadHistorySuppressedWhileInFlight(t *testing.T) {
	sink := &recordingSink{stored: []*model.Message{
		model.RestoreMessage("m1", model.RoleOutgoing, "stale", time.Now()),
	}}

	eng := newTestEngine(nil, sink)
	eng.inFlight.Store(true)

	require.NoError(t, eng.ReloadHistory(context.Background()))
	require.Empty(t, eng.Messages())
}
