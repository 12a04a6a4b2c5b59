// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/errors"
	"github.com/kraklabs/cgraph/internal/ui"
	"github.com/kraklabs/cgraph/pkg/ingestion"
)

// runInit executes the 'init' CLI command, creating a .cgraph/project.yaml
// configuration file for a source tree.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	source := fs.String("source", ".", "Root of the C source tree to ingest")
	output := fs.String("output", "", "Where to write entity.json/relation.json (default: <source>/.cgraph/out)")
	force := fs.Bool("force", false, "Overwrite an existing configuration")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cgraph init [options]

Description:
  Create a .cgraph/project.yaml configuration file describing a C
  source tree to extract a code knowledge graph from.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	configPath := ingestion.DefaultConfigPath(*source)
	if _, err := os.Stat(configPath); err == nil && !*force {
		errors.FatalError(errors.NewInputError(
			"Configuration already exists at %s (use --force to overwrite)", configPath,
		), globals.JSON)
	}

	outputDir := *output
	if outputDir == "" {
		outputDir = filepath.Join(*source, ".cgraph", "out")
	}

	cfg := &ingestion.Config{
		SourceDir: *source,
		OutputDir: outputDir,
	}
	if err := cfg.Normalize(); err != nil {
		errors.FatalError(errors.NewInternalError("normalize configuration: %v", err), globals.JSON)
	}
	if err := cfg.Save(configPath); err != nil {
		errors.FatalError(errors.NewPermissionError("write configuration: %v", err), globals.JSON)
	}

	ui.Successf("Created %s", configPath)
	fmt.Printf("%s  %s\n", ui.Label("Source:"), ui.DimText(cfg.SourceDir))
	fmt.Printf("%s  %s\n", ui.Label("Output:"), ui.DimText(cfg.OutputDir))
	ui.Info("Run 'cgraph extract' to build the graph.")
}
