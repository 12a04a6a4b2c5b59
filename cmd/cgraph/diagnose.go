// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/errors"
	"github.com/kraklabs/cgraph/internal/ui"
	"github.com/kraklabs/cgraph/pkg/ctext"
	"github.com/kraklabs/cgraph/pkg/ingestion"
)

// diagnoseResult is the --json rendering of a Diagnose call.
type diagnoseResult struct {
	Name       string                `json:"name"`
	File       string                `json:"file"`
	Scope      string                `json:"scope"`
	Candidates []ingestion.Candidate `json:"candidates"`
}

// runDiagnose executes the 'diagnose' CLI command: it reruns name
// resolution (§4.5) for a single identifier against the project's last
// extraction and prints every candidate the resolver considered, in
// priority order, instead of only the winner. This is the tool for
// answering "why did/didn't X resolve to what I expected" without
// re-reading the whole relation graph.
func runDiagnose(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("diagnose", flag.ExitOnError)
	file := fs.String("file", "", "File the reference appears in (relative to source dir, or absolute)")
	scope := fs.String("scope", ingestion.ScopeGlobal, "Enclosing function scope, or 'global' for file scope")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cgraph diagnose <name> [options]

Description:
  Explain why a reference to <name> did or did not resolve, by
  re-running the name resolution priority policy and printing every
  candidate considered (local/param, global variable, function, field),
  instead of only the winner a silent CALLS/ASSIGNED_TO edge would show.
  <name> may be a bare identifier or a member-access expression
  (p->ops->tune, OPS.tune); only its final identifier is resolved.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  cgraph diagnose handle_request
  cgraph diagnose count --file src/worker.c --scope main

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) != 1 {
		errors.FatalError(errors.NewInputError("diagnose requires exactly one identifier argument"), globals.JSON)
	}
	name := rest[0]

	cfg := loadConfigOrFatal(configPath, globals)
	if *file != "" && !filepath.IsAbs(*file) {
		*file = filepath.ToSlash(filepath.Join(cfg.SourceDir, *file))
	}
	if _, err := os.Stat(cfg.OutputDir); os.IsNotExist(err) {
		errors.FatalError(errors.NewInputError(
			"no extraction output at %s; run 'cgraph extract' first", cfg.OutputDir,
		), globals.JSON)
	}

	indices, _, _, err := ingestion.LoadSnapshot(cfg.OutputDir)
	if err != nil {
		errors.FatalError(errors.NewInternalError("load index snapshot: %v", err), globals.JSON)
	}

	closure, err := rebuildClosure(cfg)
	if err != nil {
		errors.FatalError(errors.NewInternalError("rebuild visibility closure: %v", err), globals.JSON)
	}

	resolver := ingestion.NewResolver(indices, closure, ingestion.NewMacroTable())
	candidates := resolver.Diagnose(ctext.LastIdentifier(name), *file, *scope)

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(diagnoseResult{Name: name, File: *file, Scope: *scope, Candidates: candidates})
		return
	}
	printDiagnosis(name, *file, *scope, candidates)
}

func printDiagnosis(name, file, scope string, candidates []ingestion.Candidate) {
	ui.Header(fmt.Sprintf("Resolving %q", name))
	fmt.Printf("%s  %s\n", ui.Label("File:"), ui.DimText(file))
	fmt.Printf("%s %s\n", ui.Label("Scope:"), ui.DimText(scope))
	fmt.Println()

	if len(candidates) == 0 {
		ui.Warning("No candidate found. Either the name is undeclared, or no candidate's defining file is visible from this file (§4.3 closure).")
		return
	}

	ui.SubHeader(fmt.Sprintf("%d candidate(s), winner first:", len(candidates)))
	for i, c := range candidates {
		marker := " "
		if i == 0 {
			marker = ui.Green.Sprint("*")
		}
		where := "same file"
		if !c.SameFile {
			where = c.DefiningFile
		}
		fnPtr := ""
		if c.IsFunctionPointer {
			fnPtr = "  (function pointer)"
		}
		fmt.Printf("  %s id=%d  %-9s priority=%d  %s%s\n", marker, c.ID, c.Kind, c.Priority, where, fnPtr)
	}
	if len(candidates) > 1 && candidates[0].Priority == candidates[1].Priority {
		fmt.Println()
		ui.Warning("Tied priority: the winner was chosen by first-encountered order, not a stronger rule.")
	}
}

func rebuildClosure(cfg *ingestion.Config) (*ingestion.MemoizedClosure, error) {
	files, err := ingestion.DiscoverFiles(cfg.SourceDir, cfg.ExcludeGlobs)
	if err != nil {
		return nil, err
	}
	graph := ingestion.NewIncludeGraph()
	roots := append(ingestion.DetectIncludeRoots(cfg.SourceDir), cfg.IncludeRoots...)
	var allPaths []string
	for _, f := range files {
		content, err := os.ReadFile(f.FullPath)
		if err != nil {
			continue
		}
		allPaths = append(allPaths, f.Path)
		graph.AddFile(f.Path, ingestion.ParseIncludes(content), roots)
	}
	ingestion.PairSiblings(graph, allPaths)
	return ingestion.NewMemoizedClosure(graph), nil
}
