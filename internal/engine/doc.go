// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives a chat turn end to end: session resolution, the
// streaming request, ingestion of the event stream into the open assistant
// message, and the single terminal transition that closes the turn.
//
// At most one turn is in flight per engine. A second Send while a turn is
// active is rejected with ErrBusy and leaves the active turn untouched.
package engine
