// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the cgraph CLI for extracting a typed code
// knowledge graph out of a C source tree.
//
// Usage:
//
//	cgraph init                 Create .cgraph/project.yaml configuration
//	cgraph extract              Extract (or incrementally update) the graph
//	cgraph status [--json]      Show graph statistics
//	cgraph diagnose <ref>       Explain why a reference failed to resolve
//	cgraph reset                Delete local extraction output
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the flags that apply to every subcommand.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .cgraph/project.yaml (default: <source>/.cgraph/project.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `cgraph - C code knowledge graph extractor

cgraph walks a C source tree, expands macro invocations through a
preprocessor collaborator, parses every translation unit with
tree-sitter, and emits a typed entity/relation graph: files, functions,
structs, fields and variables, connected by CONTAINS, HAS_MEMBER,
CALLS, ASSIGNED_TO, RETURNS, TYPE_OF and INCLUDES edges.

Usage:
  cgraph <command> [options]

Commands:
  init        Create .cgraph/project.yaml configuration
  extract     Extract or incrementally update the graph
  status      Show graph statistics
  diagnose    Explain why a reference failed to resolve
  reset       Delete local extraction output (destructive!)
  completion  Generate shell completion script (bash|zsh|fish)

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -c, --config      Path to .cgraph/project.yaml
  -V, --version     Show version and exit

Examples:
  cgraph init --source ./src              Create configuration from flags
  cgraph extract                          Extract or incrementally update
  cgraph extract --full                   Force a full re-extraction
  cgraph status --json                    Output graph statistics as JSON
  cgraph diagnose handle_request          Explain an unresolved reference

For detailed command help: cgraph <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("cgraph version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "extract":
		runExtract(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "diagnose":
		runDiagnose(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	case "completion":
		runCompletion(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
