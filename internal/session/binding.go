// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"sync"

	"github.com/jeranaias/knowflow-tui/internal/model"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Session is a backend chat session reference.
type Session struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Creator creates a backend session from the first message of a
// conversation. The backend derives the session name itself (an LLM
// summarizer), which is opaque to this package.
type Creator interface {
	CreateSessionFromFirstMessage(ctx context.Context, firstMessage string) (Session, error)
}

// Pinner attaches a pinned file to a backend session. Failures are
// per-file and independent.
type Pinner interface {
	PinFile(ctx context.Context, sessionID int64, pin model.PendingPin) error
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator owns the conversation's current session reference and the
// list of pins recorded before any session existed. The reference moves in
// one direction only: unbound to bound, once.
type Coordinator struct {
	mu      sync.Mutex
	current int64 // 0 = unbound
	pending []model.PendingPin

	creator Creator
	pinner  Pinner
}

// NewCoordinator creates an unbound coordinator. Either collaborator may
// be nil: without a creator the conversation simply stays unbound.
func NewCoordinator(creator Creator, pinner Pinner) *Coordinator {
	return &Coordinator{
		creator: creator,
		pinner:  pinner,
	}
}

// Current returns the bound session id, if any.
func (c *Coordinator) Current() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current > 0
}

// Bind sets the session reference directly, used when resuming a
// conversation that already has a backend session. Non-positive ids are
// ignored.
func (c *Coordinator) Bind(id int64) {
	if id <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = id
}

// AddPendingPin records a file pinned while no session exists yet.
func (c *Coordinator) AddPendingPin(pin model.PendingPin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pin)
}

// PendingPins returns a copy of the pins awaiting a session.
func (c *Coordinator) PendingPins() []model.PendingPin {
	c.mu.Lock()
	defer c.mu.Unlock()
	pins := make([]model.PendingPin, len(c.pending))
	copy(pins, c.pending)
	return pins
}

// Resolve determines the effective session id for an outbound request.
//
// A valid bound id is returned unchanged. Otherwise, if a creator is
// available, a session is created from firstMessage and every pending pin
// is bound to it; the pending list is cleared unconditionally after the
// attempts, regardless of individual failures. If creation itself fails,
// the turn degrades to an unbound request; the user's message is never
// aborted over a session bookkeeping failure.
//
// Resolve runs to completion before the chat request is issued and is not
// re-entered for the remainder of the turn.
func (c *Coordinator) Resolve(ctx context.Context, firstMessage string) (int64, bool) {
	c.mu.Lock()
	if c.current > 0 {
		id := c.current
		c.mu.Unlock()
		return id, true
	}
	creator := c.creator
	c.mu.Unlock()

	if creator == nil {
		return 0, false
	}

	sess, err := creator.CreateSessionFromFirstMessage(ctx, firstMessage)
	if err != nil || sess.ID <= 0 {
		log.Printf("session: creation failed, sending unbound: %v", err)
		return 0, false
	}

	c.mu.Lock()
	c.current = sess.ID
	pins := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, pin := range pins {
		if c.pinner == nil {
			log.Printf("session: no pinner configured, dropping pin %s", pin.FileName)
			continue
		}
		if err := c.pinner.PinFile(ctx, sess.ID, pin); err != nil {
			log.Printf("session: failed to pin %s: %v", pin.FileName, err)
		}
	}

	return sess.ID, true
}
