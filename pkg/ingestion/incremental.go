// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// IncrementalResult reports what an incremental run did, mirroring the
// stats the full pipeline reports so callers can treat both uniformly.
type IncrementalResult struct {
	Changed        bool
	FilesAdded     int
	FilesModified  int
	FilesDeleted   int
	FilesRenamed   int
	EntitiesKept   int
	EntitiesAdded  int
	EntitiesPurged int
	Relations      int
}

// RunIncremental implements the §4.7 procedure: load the prior snapshot,
// partition prior relations around the changed files, cascade-delete
// removed files, re-extract added/modified files reusing ids by
// signature match, and persist the merged result.
func RunIncremental(ctx context.Context, cfg *Config, delta *GitDelta, logger *slog.Logger) (*IncrementalResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !delta.HasChanges() {
		logger.Info("incremental.no_change")
		return &IncrementalResult{Changed: false}, nil
	}

	stats := delta.GetStats()
	logger.Info("incremental.start",
		"added", stats.AddedCount, "modified", stats.ModifiedCount, "deleted", stats.DeletedCount)
	dotCgraphDir := filepath.Join(cfg.SourceDir, ".cgraph")
	AppendIndexLog(dotCgraphDir, fmt.Sprintf("reindex start (incremental): %d added, %d modified, %d deleted",
		stats.AddedCount, stats.ModifiedCount, stats.DeletedCount))

	// 1. load prior entity_file/indices and resume the id counter.
	indices, nextID, _, err := LoadSnapshot(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	ids := ResumeFrom(nextID - 1)
	priorRelations, err := LoadRelations(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}

	changedFiles := make(map[string]bool, len(delta.Added)+len(delta.Modified)+len(delta.Deleted))
	for _, f := range delta.Added {
		changedFiles[canonicalPath(cfg.SourceDir, f)] = true
	}
	for _, f := range delta.Modified {
		changedFiles[canonicalPath(cfg.SourceDir, f)] = true
	}
	for _, f := range delta.Deleted {
		changedFiles[canonicalPath(cfg.SourceDir, f)] = true
	}
	for oldPath, newPath := range delta.Renamed {
		changedFiles[canonicalPath(cfg.SourceDir, oldPath)] = true
		changedFiles[canonicalPath(cfg.SourceDir, newPath)] = true
	}

	// 2. partition prior relations into the four buckets. outgoing (head in
	// a touched file) is dropped outright: re-extraction below re-walks
	// every touched file's AST and regenerates every relation it
	// participates in as a head. incoming and contextIn reference a
	// touched-file id from the far side of an unaffected file — a.c calls
	// bar() defined in b.c; b.c is modified but bar's signature (and so its
	// id) is unchanged; a.c is never re-walked, so this CALLS edge is only
	// still correct if it survives step 4's id-reuse/purge pass below
	// (§4.7 step 4: "re-resolve only the relations whose head or tail lies
	// in a touched file", keeping the survivors rather than dropping them).
	var unaffected, incoming, contextIn []Relation
	for _, r := range priorRelations {
		headFile, _ := indices.EntityFile(r.Head)
		tailFile, _ := indices.EntityFile(r.Tail)
		switch {
		case changedFiles[headFile]:
			// outgoing: dropped, regenerated by re-extraction.
		case changedFiles[tailFile]:
			incoming = append(incoming, r)
		case r.ContextVar != 0 && changedFiles[entityFileOrEmpty(indices, r.ContextVar)]:
			contextIn = append(contextIn, r)
		default:
			unaffected = append(unaffected, r)
		}
	}

	result := &IncrementalResult{Changed: true}

	// 3. deleted files: purge their entities from every index.
	for _, f := range delta.Deleted {
		abs := canonicalPath(cfg.SourceDir, f)
		for _, e := range indices.AllEntities() {
			if e.SourceFile == abs {
				indices.Remove(e)
				result.EntitiesPurged++
			}
		}
		result.FilesDeleted++
	}

	// 4. added/modified/renamed files: re-extract, match by signature, reuse ids.
	parser := NewCParser(logger)
	touched := append(append([]string{}, delta.Added...), delta.Modified...)
	// a rename's prior entities live under its old path, not its new one, so
	// re-extraction must match against renameOldAbs[newAbs] instead of newAbs.
	renameOldAbs := make(map[string]string, len(delta.Renamed))
	for oldPath, newPath := range delta.Renamed {
		touched = append(touched, newPath)
		renameOldAbs[canonicalPath(cfg.SourceDir, newPath)] = canonicalPath(cfg.SourceDir, oldPath)
	}
	touchedContent := make(map[string][]byte, len(touched))
	touchedTrees := make(map[string]*ParseFileResult, len(touched))

	// macro expansion must be re-run for touched files too, or a
	// macro-wrapped call in a modified file never resolves on an
	// incremental run even though a full run would have resolved it (§4.1).
	compileDB, err := LoadCompileDB(cfg.CompileCommandsPath)
	if err != nil {
		return nil, fmt.Errorf("load compile commands: %w", err)
	}
	macros := NewMacroTable()
	locator := DefineScanLocator{}
	tempDir, err := os.MkdirTemp("", "cgraph-preprocess-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	for _, rel := range touched {
		abs := canonicalPath(cfg.SourceDir, rel)
		content, err := os.ReadFile(abs)
		if err != nil {
			logger.Warn("incremental.read_failed", "path", abs, "err", err)
			continue
		}
		touchedContent[abs] = content

		if cmd, ok := compileDB.Lookup(abs); ok {
			if outPath, err := RunPreprocessor(cmd, cfg.PreprocessorPath, tempDir); err == nil {
				if preprocessed, readErr := os.ReadFile(outPath); readErr == nil {
					annotated := BuildAnnotatedStream(preprocessed)
					if table, err := ExpandMacros(locator, annotated, abs, content); err == nil {
						macros.Merge(table)
					} else {
						logger.Warn("incremental.macro_expand_failed", "path", abs, "err", err)
					}
				} else {
					logger.Warn("incremental.read_preprocessed_failed", "path", abs, "err", readErr)
				}
			} else {
				logger.Warn("incremental.preprocess_failed", "path", abs, "err", err)
			}
		}

		matchFile := abs
		if ct := delta.ChangeType(rel); ct == FileRenamed {
			matchFile = renameOldAbs[abs]
			logger.Info("incremental.file_renamed", "from", delta.GetOldPath(rel), "to", rel)
		}

		// prior entities are keyed under the file's current path, so a
		// renamed file's entities match their re-extracted counterparts.
		prevEntities := map[EntitySignature]Entity{}
		for _, e := range indices.AllEntities() {
			if e.SourceFile == matchFile {
				sig := e.Signature()
				sig.SourceFile = abs
				prevEntities[sig] = e
			}
		}

		parsed, err := parser.ParseFile(ctx, abs, content, ids)
		if err != nil {
			logger.Warn("incremental.parse_failed", "path", abs, "err", err)
			continue
		}
		touchedTrees[abs] = parsed

		matched := make(map[EntitySignature]bool)
		fresh := append([]Entity{parsed.File}, parsed.Entities...)
		for i := range fresh {
			e := &fresh[i]
			sig := e.Signature()
			if old, ok := prevEntities[sig]; ok {
				e.ID = old.ID // reuse: matches compare by (kind, name, scope, file)
				matched[sig] = true
				indices.Remove(old)
			} else {
				result.EntitiesAdded++
			}
			indices.Add(*e)
		}
		for sig, old := range prevEntities {
			if !matched[sig] {
				indices.Remove(old)
				result.EntitiesPurged++
			}
		}

		switch delta.ChangeType(rel) {
		case FileAdded:
			result.FilesAdded++
		case FileRenamed:
			result.FilesRenamed++
		default:
			result.FilesModified++
		}
	}

	// 5. rebuild the include graph and header/impl sibling pairing from the
	// current tree on every incremental run. Closures are computed lazily
	// per start file by MemoizedClosure; no closure is carried over from
	// the prior run.
	graph := NewIncludeGraph()
	roots := DetectIncludeRoots(cfg.SourceDir)
	roots = append(roots, cfg.IncludeRoots...)
	allFiles, _ := DiscoverFiles(cfg.SourceDir, cfg.ExcludeGlobs)
	var allPaths []string
	for _, f := range allFiles {
		allPaths = append(allPaths, f.Path)
		content, err := os.ReadFile(f.FullPath)
		if err != nil {
			continue
		}
		graph.AddFile(f.Path, ParseIncludes(content), roots)
	}
	PairSiblings(graph, allPaths)
	closure := NewMemoizedClosure(graph)

	resolver := NewResolver(indices, closure, macros)
	extractor := NewRelationExtractor(resolver, indices, macros)

	// incoming/contextIn survive if the touched-file id they reference was
	// reused (signature match in step 4's purge/reuse loop above left it
	// live in indices); they're dropped only if that id was purged outright
	// with no replacement, since the edge no longer points at anything.
	for _, r := range incoming {
		if _, ok := indices.EntityFile(r.Tail); ok {
			unaffected = append(unaffected, r)
		}
	}
	for _, r := range contextIn {
		if _, ok := indices.EntityFile(r.ContextVar); ok {
			unaffected = append(unaffected, r)
		}
	}

	// re-run CALLS/ASSIGNED_TO/RETURNS/TYPE_OF, HAS_*/CONTAINS and
	// INCLUDES over every touched file, unioning the results with the unaffected
	// bucket (§4.7 step 4).
	merged := append([]Relation{}, unaffected...)
	for abs, parsed := range touchedTrees {
		var fileEntities []Entity
		for _, e := range indices.AllEntities() {
			if e.SourceFile == abs {
				fileEntities = append(fileEntities, e)
			}
		}
		fileID, _ := indices.File(abs)
		merged = append(merged, extractor.ExtractFileRelations(fileID, fileEntities)...)
		merged = append(merged, extractor.ExtractASTRelations(parsed.Tree.RootNode(), abs, touchedContent[abs])...)
		var includeTargets []ID
		for _, inc := range ParseIncludes(touchedContent[abs]) {
			if id, ok := indices.File(resolveIncludeTarget(abs, inc, roots)); ok {
				includeTargets = append(includeTargets, id)
			}
		}
		merged = append(merged, ExtractIncludes(fileID, includeTargets)...)
		parsed.Close()
	}

	result.EntitiesKept = len(indices.AllEntities()) - result.EntitiesAdded
	result.Relations = len(merged)

	// 6. persist. lastSHA carries delta.HeadSHA forward so the next git
	// delta diffs from here instead of the empty tree; the hash snapshot
	// is refreshed too so a non-git incremental run doesn't re-report the
	// same files as changed on its next invocation.
	store := NewStore()
	store.AddEntities(indices.AllEntities()...)
	store.AddRelations(merged...)
	if err := store.Write(cfg.OutputDir, indices, delta.HeadSHA); err != nil {
		return nil, fmt.Errorf("persist incremental result: %w", err)
	}

	hashes := make(map[string]string, len(allFiles))
	for _, f := range allFiles {
		content, err := os.ReadFile(f.FullPath)
		if err != nil {
			continue
		}
		hashes[f.Path] = sha256Hex(content)
	}
	if err := SaveFileHashes(cfg.OutputDir, hashes); err != nil {
		logger.Warn("incremental.save_hashes_failed", "err", err)
	}

	logger.Info("incremental.complete",
		"files_added", result.FilesAdded,
		"files_modified", result.FilesModified,
		"files_deleted", result.FilesDeleted,
		"files_renamed", result.FilesRenamed,
		"entities_added", result.EntitiesAdded,
		"entities_purged", result.EntitiesPurged,
	)
	AppendIndexLog(dotCgraphDir, fmt.Sprintf("reindex complete (incremental): %d entities kept, %d added, %d purged",
		result.EntitiesKept, result.EntitiesAdded, result.EntitiesPurged))
	return result, nil
}

func entityFileOrEmpty(indices *Indices, id ID) string {
	f, _ := indices.EntityFile(id)
	return f
}

func canonicalPath(sourceDir, relOrAbs string) string {
	if relOrAbs == "" {
		return relOrAbs
	}
	if relOrAbs[0] == '/' {
		return relOrAbs
	}
	return sourceDir + "/" + relOrAbs
}
