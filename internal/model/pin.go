// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// PendingPin is a file the user pinned before any backend session existed.
// It is consumed exactly once, when a session is created from the first
// message; bind failures are logged per file and never block siblings.
type PendingPin struct {
	FilePath string         `json:"file_path"`
	FileName string         `json:"file_name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
