// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/errors"
	"github.com/kraklabs/cgraph/internal/ui"
	"github.com/kraklabs/cgraph/pkg/ingestion"
)

// StatusResult is the counted-by-kind view of a project's extraction
// output, the shape both the plain-text and --json renderings of
// 'cgraph status' are built from.
type StatusResult struct {
	OutputDir   string         `json:"output_dir"`
	Extracted   bool           `json:"extracted"`
	Files       int            `json:"files"`
	Functions   int            `json:"functions"`
	Structs     int            `json:"structs"`
	Fields      int            `json:"fields"`
	Variables   int            `json:"variables"`
	Parameters  int            `json:"parameters"`
	Relations   int            `json:"relations"`
	RelationsBy map[string]int `json:"relations_by_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// runStatus executes the 'status' CLI command: it reads back
// index_snapshot.json and relation.json from the configured output
// directory and reports counts by entity and relation kind, so a
// user can confirm an extraction ran and gauge its scope without
// re-running the pipeline.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cgraph status [options]

Description:
  Report entity and relation counts for the configured project's
  extraction output (entity.json, relation.json, index_snapshot.json).

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  cgraph status
  cgraph status --json | jq '.functions'

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfigOrFatal(configPath, globals)
	result := &StatusResult{OutputDir: cfg.OutputDir}

	if _, err := os.Stat(cfg.OutputDir); os.IsNotExist(err) {
		result.Error = "Project not extracted yet. Run 'cgraph extract' first."
		if globals.JSON {
			outputStatusJSON(result)
		} else {
			ui.Warning(result.Error)
		}
		return
	}

	entities, err := readEntityRecords(cfg.OutputDir)
	if err != nil {
		errors.FatalError(errors.NewInternalError("read index snapshot: %v", err), globals.JSON)
	}
	relations, err := ingestion.LoadRelations(cfg.OutputDir)
	if err != nil {
		errors.FatalError(errors.NewInternalError("read relation.json: %v", err), globals.JSON)
	}

	result.Extracted = true
	result.RelationsBy = make(map[string]int)
	for _, e := range entities {
		switch e.Kind {
		case ingestion.KindFile:
			result.Files++
		case ingestion.KindFunction:
			result.Functions++
		case ingestion.KindStruct:
			result.Structs++
		case ingestion.KindField:
			result.Fields++
		case ingestion.KindVariable:
			if e.Role == ingestion.RoleParam {
				result.Parameters++
			} else {
				result.Variables++
			}
		}
	}
	for _, r := range relations {
		result.RelationsBy[string(r.Kind)]++
	}
	result.Relations = len(relations)

	if globals.JSON {
		outputStatusJSON(result)
	} else {
		printStatus(result)
	}
}

func readEntityRecords(outputDir string) ([]ingestion.Entity, error) {
	indices, _, _, err := ingestion.LoadSnapshot(outputDir)
	if err != nil {
		return nil, err
	}
	return indices.AllEntities(), nil
}

func outputStatusJSON(result *StatusResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

func printStatus(result *StatusResult) {
	ui.Header("cgraph project status")
	fmt.Printf("%s  %s\n", ui.Label("Output dir:"), ui.DimText(result.OutputDir))
	fmt.Println()

	ui.SubHeader("Entities:")
	fmt.Printf("  Files:       %s\n", ui.CountText(result.Files))
	fmt.Printf("  Functions:   %s\n", ui.CountText(result.Functions))
	fmt.Printf("  Structs:     %s\n", ui.CountText(result.Structs))
	fmt.Printf("  Fields:      %s\n", ui.CountText(result.Fields))
	fmt.Printf("  Variables:   %s\n", ui.CountText(result.Variables))
	fmt.Printf("  Parameters:  %s\n", ui.CountText(result.Parameters))
	fmt.Println()

	ui.SubHeader("Relations:")
	fmt.Printf("  Total:       %s\n", ui.CountText(result.Relations))
	for _, kind := range []ingestion.RelationKind{
		ingestion.RelContains, ingestion.RelHasMember, ingestion.RelHasParam,
		ingestion.RelHasVar, ingestion.RelCalls, ingestion.RelAssignedTo,
		ingestion.RelReturns, ingestion.RelTypeOf, ingestion.RelIncludes,
	} {
		if n := result.RelationsBy[string(kind)]; n > 0 {
			fmt.Printf("    %-14s %s\n", string(kind)+":", ui.CountText(n))
		}
	}
}
