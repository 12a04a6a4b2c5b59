// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config controls a single extraction run, whether full or incremental.
type Config struct {
	// SourceDir is the root of the C source tree to ingest.
	SourceDir string `yaml:"source_dir"`

	// OutputDir is where entity.json, relation.json and the index
	// snapshot are written.
	OutputDir string `yaml:"output_dir"`

	// CompileCommandsPath points at a compile_commands.json document. If
	// empty, the pipeline looks for one at SourceDir/compile_commands.json
	// and otherwise runs without per-file compiler flags (macro expansion
	// is skipped for files missing a compile command, per §7).
	CompileCommandsPath string `yaml:"compile_commands_path"`

	// IncludeRoots are extra search roots considered for #include "..."
	// resolution beyond the current file's directory and auto-detected
	// project roots (§4.3).
	IncludeRoots []string `yaml:"include_roots"`

	// ExcludeGlobs are glob patterns (matched against paths relative to
	// SourceDir) excluded from ingestion entirely.
	ExcludeGlobs []string `yaml:"exclude_globs"`

	// PreprocessorPath overrides the compiler binary used to run -E.
	// Defaults to the compiler named in each file's compile command; a
	// compile command with no arguments is not preprocessed.
	PreprocessorPath string `yaml:"preprocessor_path"`

	// Workers is a requested worker count. The pipeline does not read it:
	// entity and relation extraction process files one at a time.
	Workers int `yaml:"workers"`
}

// DefaultConfigPath is where LoadConfig looks when no explicit path is
// given: "<source_dir>/.cgraph/project.yaml".
func DefaultConfigPath(sourceDir string) string {
	return filepath.Join(sourceDir, ".cgraph", "project.yaml")
}

// LoadConfig reads a YAML config file, returning a zero-value Config if
// the file does not exist (a missing config file is not an error — the
// CLI's flags are expected to fill in SourceDir/OutputDir in that case).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config as YAML to path, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

// Normalize fills in defaults and canonicalizes SourceDir/OutputDir to
// absolute POSIX paths, per the "Windows/POSIX paths" open question:
// absolute POSIX is the one canonical path form used everywhere in this
// package.
func (c *Config) Normalize() error {
	abs, err := toAbsPosix(c.SourceDir)
	if err != nil {
		return err
	}
	c.SourceDir = abs

	if c.OutputDir != "" {
		abs, err = toAbsPosix(c.OutputDir)
		if err != nil {
			return err
		}
		c.OutputDir = abs
	}

	if c.CompileCommandsPath == "" {
		candidate := filepath.Join(c.SourceDir, "compile_commands.json")
		if _, err := os.Stat(candidate); err == nil {
			c.CompileCommandsPath = candidate
		}
	}
	return nil
}

func toAbsPosix(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(abs), nil
}
