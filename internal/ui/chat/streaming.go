// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// DELTA BUFFER
// =============================================================================

// DeltaBuffer coalesces streamed content snapshots for rendering.
//
// The engine reports the full rendered content after every applied delta;
// repainting on each one would redraw far faster than any terminal can
// show. The buffer keeps only the latest snapshot and releases it when
// either enough deltas have landed since the last repaint or the frame
// interval has elapsed.
//
// Writes happen on the streaming goroutine, flushes on the bubbletea loop,
// so all operations lock.
type DeltaBuffer struct {
	mu         sync.Mutex
	latest     string
	writes     int
	lastFlush  time.Time
	batchSize  int
	frameEvery time.Duration
}

// NewDeltaBuffer creates a buffer releasing at most maxFPS frames per
// second, or earlier once batchSize deltas have accumulated.
func NewDeltaBuffer(batchSize, maxFPS int) *DeltaBuffer {
	if batchSize <= 0 {
		batchSize = 8
	}
	if maxFPS <= 0 || maxFPS > 120 {
		maxFPS = 30
	}
	return &DeltaBuffer{
		batchSize:  batchSize,
		frameEvery: time.Second / time.Duration(maxFPS),
		lastFlush:  time.Now(),
	}
}

// Write records the latest rendered content. Called from the streaming
// goroutine.
func (b *DeltaBuffer) Write(rendered string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = rendered
	b.writes++
}

// Flush returns the pending snapshot if a repaint is due.
func (b *DeltaBuffer) Flush() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writes == 0 {
		return "", false
	}
	if b.writes < b.batchSize && time.Since(b.lastFlush) < b.frameEvery {
		return "", false
	}

	return b.takeLocked(), true
}

// ForceFlush returns any pending snapshot regardless of thresholds. Used
// when the turn finishes so the last deltas are never dropped.
func (b *DeltaBuffer) ForceFlush() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writes == 0 {
		return "", false
	}
	return b.takeLocked(), true
}

// Reset discards pending content, for the start of a new turn.
func (b *DeltaBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = ""
	b.writes = 0
	b.lastFlush = time.Now()
}

// Pending returns the number of deltas since the last flush.
func (b *DeltaBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *DeltaBuffer) takeLocked() string {
	content := b.latest
	b.writes = 0
	b.lastFlush = time.Now()
	return content
}

// =============================================================================
// TICK COMMAND
// =============================================================================

// StreamTickMsg drives repaints while a reply streams.
type StreamTickMsg struct {
	Time time.Time
}

// streamTickCmd schedules the next streaming repaint.
func streamTickCmd(frameEvery time.Duration) tea.Cmd {
	return tea.Tick(frameEvery, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
