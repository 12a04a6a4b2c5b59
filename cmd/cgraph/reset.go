// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/errors"
	"github.com/kraklabs/cgraph/internal/ui"
)

// runReset executes the 'reset' CLI command, deleting a project's
// extraction output (entity.json, relation.json, index_snapshot.json,
// the file-hash cache) so the next 'cgraph extract' starts from a full
// run instead of an incremental one.
func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cgraph reset [options]

Description:
  WARNING: deletes all extraction output under the configured output
  directory: entity.json, relation.json, index_snapshot.json, and the
  file-hash cache used for content-hash-based incremental updates.

  The next 'cgraph extract' after a reset always performs a full
  extraction, since no prior snapshot remains to diff against.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  cgraph reset --yes

Notes:
  This only removes extraction output. .cgraph/project.yaml is left
  untouched; use 'cgraph init --force' to rewrite it.

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		errors.FatalError(errors.NewInputError(
			"the --yes flag is required to confirm this destructive operation (run 'cgraph reset --yes')",
		), globals.JSON)
	}

	cfg := loadConfigOrFatal(configPath, globals)

	if _, err := os.Stat(cfg.OutputDir); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "No extraction output found at %s\n", cfg.OutputDir)
		return
	}

	fmt.Printf("Resetting %s...\n", cfg.OutputDir)
	if err := os.RemoveAll(cfg.OutputDir); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"remove output directory %s: %v", cfg.OutputDir, err,
		), globals.JSON)
	}

	ui.Success("Reset complete. Extraction output has been deleted.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  cgraph extract    Run a fresh full extraction")
}
