// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the terminal chat surface.
//
// The bubbletea model owns a textarea for input, a viewport for the
// transcript, and a spinner while a reply streams. Deltas arrive on the
// engine's callback goroutine and are repainted on a capped tick so fast
// streams do not flood the render loop.
package chat
