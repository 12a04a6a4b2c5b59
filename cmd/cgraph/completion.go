// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cgraph/internal/errors"
)

// commandNames lists the subcommands completion scripts should offer,
// kept in the same order main's Usage text lists them.
var commandNames = []string{"init", "extract", "status", "diagnose", "reset", "completion"}

// runCompletion executes the 'completion' CLI command, printing a shell
// completion script to stdout for the requested shell. pflag (unlike
// cobra) has no built-in completion generator, so the three scripts
// below are hand-written against each shell's own completion API.
func runCompletion(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cgraph completion <bash|zsh|fish>

Description:
  Print a shell completion script for cgraph to stdout.

Examples:
  cgraph completion bash > /etc/bash_completion.d/cgraph
  cgraph completion zsh  > "${fpath[1]}/_cgraph"
  cgraph completion fish > ~/.config/fish/completions/cgraph.fish

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) != 1 {
		errors.FatalError(errors.NewInputError("completion requires exactly one shell argument (bash, zsh, or fish)"), globals.JSON)
	}

	var script string
	switch rest[0] {
	case "bash":
		script = bashCompletion
	case "zsh":
		script = zshCompletion
	case "fish":
		script = fishCompletion
	default:
		errors.FatalError(errors.NewInputError("unsupported shell %q (supported: bash, zsh, fish)", rest[0]), globals.JSON)
	}
	fmt.Print(script)
}

const bashCompletion = `# bash completion for cgraph
_cgraph_completions() {
  local cur prev
  COMPREPLY=()
  cur="${COMP_WORDS[COMP_CWORD]}"
  if [ "$COMP_CWORD" -eq 1 ]; then
    COMPREPLY=( $(compgen -W "init extract status diagnose reset completion" -- "$cur") )
    return 0
  fi
  prev="${COMP_WORDS[1]}"
  case "$prev" in
    completion)
      COMPREPLY=( $(compgen -W "bash zsh fish" -- "$cur") )
      ;;
  esac
}
complete -F _cgraph_completions cgraph
`

const zshCompletion = `#compdef cgraph

_cgraph() {
  local -a commands
  commands=(
    'init:Create .cgraph/project.yaml configuration'
    'extract:Extract or incrementally update the graph'
    'status:Show graph statistics'
    'diagnose:Explain why a reference failed to resolve'
    'reset:Delete local extraction output'
    'completion:Generate shell completion script'
  )
  if (( CURRENT == 2 )); then
    _describe 'command' commands
    return
  fi
  if [[ "${words[2]}" == completion ]]; then
    _values 'shell' bash zsh fish
  fi
}

_cgraph
`

const fishCompletion = `# fish completion for cgraph
complete -c cgraph -n "__fish_use_subcommand" -a init -d "Create .cgraph/project.yaml configuration"
complete -c cgraph -n "__fish_use_subcommand" -a extract -d "Extract or incrementally update the graph"
complete -c cgraph -n "__fish_use_subcommand" -a status -d "Show graph statistics"
complete -c cgraph -n "__fish_use_subcommand" -a diagnose -d "Explain why a reference failed to resolve"
complete -c cgraph -n "__fish_use_subcommand" -a reset -d "Delete local extraction output"
complete -c cgraph -n "__fish_use_subcommand" -a completion -d "Generate shell completion script"
complete -c cgraph -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`
