// knowflow TUI - A terminal chat client for a local knowledge backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/knowflow-tui/internal/api"
	"github.com/jeranaias/knowflow-tui/internal/config"
	"github.com/jeranaias/knowflow-tui/internal/engine"
	"github.com/jeranaias/knowflow-tui/internal/session"
	"github.com/jeranaias/knowflow-tui/internal/storage"
	"github.com/jeranaias/knowflow-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("knowflow-tui %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "knowflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	client := api.NewClient(cfg.Backend.BaseURL).WithTimeout(cfg.RequestTimeout())
	coord := session.NewCoordinator(client, client)
	eng := engine.New(coord, client, store)

	program := tea.NewProgram(chat.New(eng, cfg), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run UI: %w", err)
	}
	return nil
}
