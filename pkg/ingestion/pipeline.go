// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ProgressCallback is invoked after each file finishes entity extraction,
// reporting (files done so far, total files). Optional; nil is a no-op.
type ProgressCallback func(done, total int)

// Result reports what a full (non-incremental) run produced.
type Result struct {
	FilesDiscovered int
	FilesParsed     int
	FilesFailed     int
	Entities        int
	Relations       int
	Duration        time.Duration
}

// RunFull walks SourceDir, runs macro expansion and AST extraction over
// every discovered .c/.h file, builds the include graph and its
// visibility closure, resolves and extracts every relation kind, dedups
// and persists the result, and writes a file-hash snapshot for the next
// run's delta detector.
func RunFull(ctx context.Context, cfg *Config, logger *slog.Logger, progress ProgressCallback) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	dotCgraphDir := filepath.Join(cfg.SourceDir, ".cgraph")
	AppendIndexLog(dotCgraphDir, "reindex start (full)")

	files, err := DiscoverFiles(cfg.SourceDir, cfg.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	logger.Info("pipeline.discover", "files", len(files))

	compileDB, err := LoadCompileDB(cfg.CompileCommandsPath)
	if err != nil {
		return nil, fmt.Errorf("load compile commands: %w", err)
	}

	result := &Result{FilesDiscovered: len(files)}
	indices := NewIndices()
	ids := NewIDCounter()
	parser := NewCParser(logger)
	macros := NewMacroTable()
	locator := DefineScanLocator{}

	graph := NewIncludeGraph()
	roots := DetectIncludeRoots(cfg.SourceDir)
	roots = append(roots, cfg.IncludeRoots...)

	type parsedFile struct {
		path    string
		content []byte
		tree    *ParseFileResult
	}
	parsedFiles := make([]parsedFile, 0, len(files))
	var allPaths []string

	tempDir, err := os.MkdirTemp("", "cgraph-preprocess-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// phase 1: macro expansion + AST entity extraction, per file.
	for i, f := range files {
		content, err := os.ReadFile(f.FullPath)
		if err != nil {
			logger.Warn("pipeline.read_failed", "path", f.Path, "err", err)
			result.FilesFailed++
			continue
		}

		allPaths = append(allPaths, f.Path)
		graph.AddFile(f.Path, ParseIncludes(content), roots)

		if cmd, ok := compileDB.Lookup(f.Path); ok {
			if outPath, err := RunPreprocessor(cmd, cfg.PreprocessorPath, tempDir); err == nil {
				preprocessed, readErr := os.ReadFile(outPath)
				if readErr != nil {
					logger.Warn("pipeline.read_preprocessed_failed", "path", f.Path, "err", readErr)
				} else {
					annotated := BuildAnnotatedStream(preprocessed)
					if table, err := ExpandMacros(locator, annotated, f.Path, content); err == nil {
						macros.Merge(table)
					} else {
						logger.Warn("pipeline.macro_expand_failed", "path", f.Path, "err", err)
					}
				}
			} else {
				logger.Warn("pipeline.preprocess_failed", "path", f.Path, "err", err)
			}
		}

		parseStart := time.Now()
		parsed, err := parser.ParseFile(ctx, f.Path, content, ids)
		observePhase("parse", parseStart)
		if err != nil {
			logger.Warn("pipeline.parse_failed", "path", f.Path, "err", err)
			result.FilesFailed++
			recordFileOutcome("failed")
			continue
		}

		indices.Add(parsed.File)
		for _, e := range parsed.Entities {
			indices.Add(e)
		}
		recordEntities(append([]Entity{parsed.File}, parsed.Entities...))
		recordFileOutcome("parsed")
		parsedFiles = append(parsedFiles, parsedFile{path: f.Path, content: content, tree: parsed})
		result.FilesParsed++

		if progress != nil {
			progress(i+1, len(files))
		}
	}

	PairSiblings(graph, allPaths)
	closure := NewMemoizedClosure(graph)
	resolver := NewResolver(indices, closure, macros)
	extractor := NewRelationExtractor(resolver, indices, macros)

	// phase 2: relation extraction, once every file's entities are indexed
	// so cross-file resolution has a complete candidate set to search.
	store := NewStore()
	store.AddEntities(indices.AllEntities()...)

	relStart := time.Now()
	for _, pf := range parsedFiles {
		fileID, _ := indices.File(pf.path)
		var fileEntities []Entity
		for _, e := range indices.AllEntities() {
			if e.SourceFile == pf.path {
				fileEntities = append(fileEntities, e)
			}
		}
		fileRels := extractor.ExtractFileRelations(fileID, fileEntities)
		astRels := extractor.ExtractASTRelations(pf.tree.Tree.RootNode(), pf.path, pf.content)
		store.AddRelations(fileRels...)
		store.AddRelations(astRels...)
		recordRelations(fileRels)
		recordRelations(astRels)

		var includeTargets []ID
		for _, inc := range ParseIncludes(pf.content) {
			target := resolveIncludeTarget(pf.path, inc, roots)
			if id, ok := indices.File(target); ok {
				includeTargets = append(includeTargets, id)
			}
		}
		store.AddRelations(ExtractIncludes(fileID, includeTargets)...)

		pf.tree.Close()
	}
	observePhase("relations", relStart)

	headSHA := currentHeadSHA(cfg.SourceDir, logger)
	if err := store.Write(cfg.OutputDir, indices, headSHA); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}

	hashes := make(map[string]string, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f.FullPath)
		if err != nil {
			continue
		}
		hashes[f.Path] = sha256Hex(content)
	}
	if err := SaveFileHashes(cfg.OutputDir, hashes); err != nil {
		logger.Warn("pipeline.save_hashes_failed", "err", err)
	}

	result.Entities = len(store.Entities())
	result.Relations = len(store.Relations())
	result.Duration = time.Since(start)

	logger.Info("pipeline.complete",
		"files_discovered", result.FilesDiscovered,
		"files_parsed", result.FilesParsed,
		"files_failed", result.FilesFailed,
		"entities", result.Entities,
		"relations", result.Relations,
		"duration", result.Duration,
	)
	AppendIndexLog(dotCgraphDir, fmt.Sprintf("reindex complete (full): %d entities, %d relations",
		result.Entities, result.Relations))
	return result, nil
}

// Run picks between a full and an incremental extraction: git delta when
// SourceDir is a git repository and a prior run's snapshot exists,
// content-hash delta otherwise, and a full run when neither applies.
func Run(ctx context.Context, cfg *Config, logger *slog.Logger, progress ProgressCallback) (*Result, *IncrementalResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "index_snapshot.json")); err == nil {
		_, _, lastSHA, _ := LoadSnapshot(cfg.OutputDir)
		gitDD := NewDeltaDetector(cfg.SourceDir, logger)
		if gitDD.IsGitRepository() {
			head, err := gitDD.GetHeadSHA()
			if err == nil {
				delta, err := gitDD.DetectDelta(lastSHA, head)
				if err == nil {
					if untracked, uErr := gitDD.DetectUntrackedFiles(); uErr == nil {
						delta = MergeUntracked(delta, untracked)
					}
					delta = FilterDelta(delta, cfg.ExcludeGlobs, 0, cfg.SourceDir)
					incResult, err := RunIncremental(ctx, cfg, delta, logger)
					if err == nil {
						return nil, incResult, nil
					}
					logger.Warn("pipeline.incremental_failed", "err", err)
				}
			}
		} else {
			hashDD := NewHashDeltaDetector(cfg.SourceDir, cfg.OutputDir, logger)
			if hashDD.IsAvailable() {
				files, err := DiscoverFiles(cfg.SourceDir, cfg.ExcludeGlobs)
				if err == nil {
					delta, err := hashDD.DetectChanges(ctx, files)
					if err == nil {
						incResult, err := RunIncremental(ctx, cfg, delta, logger)
						if err == nil {
							return nil, incResult, nil
						}
						logger.Warn("pipeline.incremental_failed", "err", err)
					}
				}
			}
		}
	}

	result, err := RunFull(ctx, cfg, logger, progress)
	return result, nil, err
}

func resolveIncludeTarget(fromFile, include string, roots []string) string {
	return resolveInclude(filepath.Dir(fromFile), include, roots)
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// currentHeadSHA returns sourceDir's git HEAD, or "" when it isn't a git
// repository at all (the hash-delta path never needs a SHA to resume from).
func currentHeadSHA(sourceDir string, logger *slog.Logger) string {
	dd := NewDeltaDetector(sourceDir, logger)
	if !dd.IsGitRepository() {
		return ""
	}
	sha, err := dd.GetHeadSHA()
	if err != nil {
		return ""
	}
	return sha
}
