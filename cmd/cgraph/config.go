// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/kraklabs/cgraph/internal/errors"
	"github.com/kraklabs/cgraph/pkg/ingestion"
)

// loadConfigOrFatal loads project.yaml at configPath (or the source
// tree's default location once resolved), normalizes it, and exits the
// process on failure. Every subcommand that operates on an existing
// project goes through this helper so config resolution stays uniform.
func loadConfigOrFatal(configPath string, globals GlobalFlags) *ingestion.Config {
	if configPath == "" {
		configPath = ingestion.DefaultConfigPath(".")
	}
	cfg, err := ingestion.LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewInputError("load configuration: %v", err), globals.JSON)
	}
	if cfg.SourceDir == "" {
		cfg.SourceDir = "."
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.SourceDir, ".cgraph", "out")
	}
	if err := cfg.Normalize(); err != nil {
		errors.FatalError(errors.NewInternalError("normalize configuration: %v", err), globals.JSON)
	}
	return cfg
}
