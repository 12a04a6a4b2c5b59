// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"
)

// DeltaDetector drives `git diff --name-status` between two commits of
// the source tree and classifies each changed path as added, modified,
// deleted, or renamed, per the VCS-delta branch of §4.7. A rename is
// surfaced as its own bucket rather than collapsed into delete+add so
// RunIncremental can reuse a renamed file's prior entity ids under its
// new path instead of purging and re-minting them.
type DeltaDetector struct {
	logger   *slog.Logger
	repoPath string
}

// NewDeltaDetector builds a detector rooted at repoPath, which must be
// (or be inside) a git working tree for DetectDelta to succeed.
func NewDeltaDetector(repoPath string, logger *slog.Logger) *DeltaDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaDetector{
		logger:   logger,
		repoPath: repoPath,
	}
}

// GitDelta is the classified result of comparing BaseSHA against HeadSHA:
// every path git reports as touched, bucketed by change kind. All is the
// sorted union consumed by RunIncremental to decide which files need
// re-extraction.
type GitDelta struct {
	BaseSHA string
	HeadSHA string

	Added    []string
	Modified []string
	Deleted  []string

	// Renamed maps old path to new path. git's -M rename detection
	// threshold decides what counts as a rename versus a delete+add.
	Renamed map[string]string

	// All is every path touched by this delta, renames contributing
	// both their old and new path, sorted and deduplicated.
	All []string
}

// FileChangeType classifies how a single path changed between two
// DetectDelta snapshots.
type FileChangeType string

const (
	FileAdded    FileChangeType = "added"
	FileModified FileChangeType = "modified"
	FileDeleted  FileChangeType = "deleted"
	FileRenamed  FileChangeType = "renamed"
)

// ChangeType classifies how path was touched by this delta, used by
// RunIncremental's per-file logging to report renames distinctly from
// plain modifications instead of folding both into "touched".
func (d *GitDelta) ChangeType(path string) FileChangeType {
	for _, p := range d.Added {
		if p == path {
			return FileAdded
		}
	}
	for _, p := range d.Modified {
		if p == path {
			return FileModified
		}
	}
	for _, p := range d.Deleted {
		if p == path {
			return FileDeleted
		}
	}
	for oldPath, newPath := range d.Renamed {
		if newPath == path {
			return FileRenamed
		}
		if oldPath == path {
			return FileDeleted
		}
	}
	return ""
}

// GetOldPath returns the pre-rename path for newPath, or "" if newPath
// was not the target of a rename in this delta.
func (d *GitDelta) GetOldPath(newPath string) string {
	for oldPath, np := range d.Renamed {
		if np == newPath {
			return oldPath
		}
	}
	return ""
}

// DetectDelta detects changed files between two commits.
// If baseSHA is empty, compares headSHA against an empty tree (all files are "added").
// If headSHA is empty, uses HEAD.
func (dd *DeltaDetector) DetectDelta(baseSHA, headSHA string) (*GitDelta, error) {
	resolvedBase, resolvedHead, err := dd.resolveRefs(baseSHA, headSHA)
	if err != nil {
		return nil, fmt.Errorf("resolve git refs: %w", err)
	}

	delta := &GitDelta{
		BaseSHA: resolvedBase,
		HeadSHA: resolvedHead,
		Renamed: make(map[string]string),
	}

	output, err := dd.runGitDiff(resolvedBase, resolvedHead)
	if err != nil {
		return nil, fmt.Errorf("run git diff: %w", err)
	}

	if err := dd.parseDiffOutput(output, delta); err != nil {
		return nil, fmt.Errorf("parse diff output: %w", err)
	}

	sortDeltaLists(delta)
	rebuildAllList(delta)
	dd.logDeltaComplete(resolvedBase, resolvedHead, delta)

	return delta, nil
}

// resolveRefs resolves base and head refs to commit SHAs.
func (dd *DeltaDetector) resolveRefs(baseSHA, headSHA string) (resolvedBase, resolvedHead string, err error) {
	if headSHA == "" {
		headSHA = "HEAD"
	}

	resolvedHead, err = dd.resolveRef(headSHA)
	if err != nil {
		return "", "", fmt.Errorf("resolve head SHA: %w", err)
	}

	if baseSHA == "" {
		// Use empty tree SHA for initial commit comparison (all files are "added")
		resolvedBase = "4b825dc642cb6eb9a060e54bf8d69288fbee4904" // Git's empty tree SHA
		dd.logger.Info("delta.detect.initial",
			"head_sha", resolvedHead[:minInt(8, len(resolvedHead))],
			"msg", "comparing against empty tree (initial ingestion)",
		)
	} else {
		resolvedBase, err = dd.resolveRef(baseSHA)
		if err != nil {
			return "", "", fmt.Errorf("resolve base SHA: %w", err)
		}
	}

	return resolvedBase, resolvedHead, nil
}

// runGitDiff executes git diff with rename detection.
func (dd *DeltaDetector) runGitDiff(resolvedBase, resolvedHead string) ([]byte, error) {
	cmd := exec.Command("git", "diff", "--name-status", "-M", resolvedBase, resolvedHead) //nolint:gosec // G204: args are SHA hashes from git rev-parse
	cmd.Dir = dd.repoPath

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git diff failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return output, nil
}

// parseDiffOutput parses git diff output into delta struct.
func (dd *DeltaDetector) parseDiffOutput(output []byte, delta *GitDelta) error {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		dd.processDiffLine(line, delta)
	}
	return scanner.Err()
}

// processDiffLine handles a single line from git diff output.
func (dd *DeltaDetector) processDiffLine(line string, delta *GitDelta) {
	status, paths := parseGitDiffLine(line)
	if status == "" || len(paths) == 0 {
		return
	}

	switch status[0] {
	case 'A':
		delta.Added = append(delta.Added, paths[0])
	case 'M':
		delta.Modified = append(delta.Modified, paths[0])
	case 'D':
		delta.Deleted = append(delta.Deleted, paths[0])
	case 'R':
		if len(paths) >= 2 {
			delta.Renamed[paths[0]] = paths[1]
		}
	case 'C':
		if len(paths) >= 2 {
			delta.Added = append(delta.Added, paths[1])
		}
	}
}

// logDeltaComplete logs the completion of delta detection.
func (dd *DeltaDetector) logDeltaComplete(resolvedBase, resolvedHead string, delta *GitDelta) {
	dd.logger.Info("delta.detect.complete",
		"base_sha", resolvedBase[:minInt(8, len(resolvedBase))],
		"head_sha", resolvedHead[:minInt(8, len(resolvedHead))],
		"added", len(delta.Added),
		"modified", len(delta.Modified),
		"deleted", len(delta.Deleted),
		"renamed", len(delta.Renamed),
		"total_changed", len(delta.All),
	)
}

// parseGitDiffLine parses a line from git diff --name-status output.
// Returns status (A/M/D/R###/C###) and paths.
func parseGitDiffLine(line string) (status string, paths []string) {
	// Format: "STATUS\tpath" or "STATUS\told_path\tnew_path" for renames
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return "", nil
	}

	status = parts[0]
	paths = parts[1:]

	// Normalize paths (remove quotes if present)
	for i, p := range paths {
		paths[i] = unquoteGitPath(p)
	}

	return status, paths
}

// unquoteGitPath removes quotes and handles escape sequences from git paths.
func unquoteGitPath(path string) string {
	// Git quotes paths with special characters
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		// Remove quotes and unescape
		unquoted := path[1 : len(path)-1]
		// Handle common escapes
		unquoted = strings.ReplaceAll(unquoted, "\\n", "\n")
		unquoted = strings.ReplaceAll(unquoted, "\\t", "\t")
		unquoted = strings.ReplaceAll(unquoted, "\\\\", "\\")
		unquoted = strings.ReplaceAll(unquoted, "\\\"", "\"")
		return unquoted
	}
	return path
}

// resolveRef resolves a git ref (branch, tag, HEAD) to a commit SHA.
func (dd *DeltaDetector) resolveRef(ref string) (string, error) {
	cmd := exec.Command("git", "rev-parse", ref)
	cmd.Dir = dd.repoPath

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git rev-parse %s failed: %s", ref, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git rev-parse: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// GetHeadSHA returns the current HEAD SHA.
func (dd *DeltaDetector) GetHeadSHA() (string, error) {
	return dd.resolveRef("HEAD")
}

// IsGitRepository checks if the repo path is a valid git repository.
func (dd *DeltaDetector) IsGitRepository() bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dd.repoPath
	err := cmd.Run()
	return err == nil
}

// DetectUntrackedFiles returns files present on disk but not in the git
// index, via `git ls-files --others --exclude-standard`. New source files
// dropped into the tree before their first `git add` would otherwise be
// invisible to DetectDelta, which only diffs committed trees; Run merges
// these into the Added bucket so a fresh .c/.h file is picked up on the
// very next extraction instead of waiting for a commit.
func (dd *DeltaDetector) DetectUntrackedFiles() ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--others", "--exclude-standard")
	cmd.Dir = dd.repoPath
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git ls-files failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	return files, scanner.Err()
}

// MergeUntracked folds untracked into delta's Added bucket, skipping any
// path already present in another bucket, and rebuilds All/sorts the
// result. A no-op bucket yields an unmodified delta.
func MergeUntracked(delta *GitDelta, untracked []string) *GitDelta {
	if len(untracked) == 0 {
		return delta
	}
	known := make(map[string]bool, len(delta.All))
	for _, p := range delta.All {
		known[p] = true
	}
	for _, p := range untracked {
		if !known[p] {
			delta.Added = append(delta.Added, p)
			known[p] = true
		}
	}
	sortDeltaLists(delta)
	rebuildAllList(delta)
	return delta
}

// FilterDelta narrows delta to paths worth re-extracting: excludeGlobs
// drops vendored/generated trees, maxFileSize (0 = unlimited) skips
// oversized files, and repoPath roots the on-disk checks used to drop
// symlinks, directories, and binaries from the delta entirely.
func FilterDelta(delta *GitDelta, excludeGlobs []string, maxFileSize int64, repoPath string) *GitDelta {
	fc := &filterContext{excludeGlobs: excludeGlobs, maxFileSize: maxFileSize, repoPath: repoPath}
	filtered := &GitDelta{
		BaseSHA: delta.BaseSHA,
		HeadSHA: delta.HeadSHA,
		Renamed: make(map[string]string),
	}

	filtered.Added = fc.filterPaths(delta.Added, true)
	filtered.Modified = fc.filterPaths(delta.Modified, true)
	filtered.Deleted = fc.filterPaths(delta.Deleted, false)
	fc.filterRenamed(delta.Renamed, filtered)

	sortDeltaLists(filtered)
	rebuildAllList(filtered)

	return filtered
}

// filterContext holds filtering configuration for delta operations.
type filterContext struct {
	excludeGlobs []string
	maxFileSize  int64
	repoPath     string
}

// shouldInclude checks if path matches exclude glob patterns.
func (fc *filterContext) shouldInclude(path string) bool {
	normalizedPath := filepath.ToSlash(path)
	for _, pattern := range fc.excludeGlobs {
		if ok, _ := filepath.Match(pattern, normalizedPath); ok {
			return false
		}
	}
	return true
}

// checkFileEligible validates basic constraints (exists, regular file, size, textual).
func (fc *filterContext) checkFileEligible(path string) bool {
	fullPath := filepath.Join(fc.repoPath, path)
	info, err := os.Lstat(fullPath)
	if err != nil {
		return true // File doesn't exist - let later stages handle it
	}
	if info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
		return false
	}
	if fc.maxFileSize > 0 && info.Size() > fc.maxFileSize {
		return false
	}
	return !isBinaryFile(fullPath)
}

// isBinaryFile checks if file appears to be binary by scanning for NUL bytes.
func isBinaryFile(fullPath string) bool {
	f, err := os.Open(fullPath) //nolint:gosec // G304: path validated by caller
	if err != nil {
		return false // Can't open - let later stages handle it
	}
	defer func() { _ = f.Close() }()
	const sniff = 8192
	buf := make([]byte, sniff)
	n, _ := io.ReadFull(f, buf)
	if n <= 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0x00) >= 0
}

// filterPaths filters a slice of paths using include/eligibility checks.
func (fc *filterContext) filterPaths(paths []string, checkEligible bool) []string {
	var result []string
	for _, p := range paths {
		if !fc.shouldInclude(p) {
			continue
		}
		if checkEligible && !fc.checkFileEligible(p) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// filterRenamed processes renamed files, converting ineligible renames to deletions.
func (fc *filterContext) filterRenamed(renamed map[string]string, filtered *GitDelta) {
	for oldPath, newPath := range renamed {
		if fc.shouldInclude(newPath) && fc.checkFileEligible(newPath) {
			filtered.Renamed[oldPath] = newPath
			continue
		}
		if fc.shouldInclude(oldPath) {
			filtered.Deleted = append(filtered.Deleted, oldPath)
		}
	}
}

// sortDeltaLists ensures deterministic ordering of all lists.
func sortDeltaLists(d *GitDelta) {
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	if len(d.Renamed) > 1 {
		keys := make([]string, 0, len(d.Renamed))
		for k := range d.Renamed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]string, len(d.Renamed))
		for _, k := range keys {
			ordered[k] = d.Renamed[k]
		}
		d.Renamed = ordered
	}
}

// rebuildAllList reconstructs the All list from all buckets.
func rebuildAllList(d *GitDelta) {
	allSet := make(map[string]bool)
	for _, p := range d.Added {
		allSet[p] = true
	}
	for _, p := range d.Modified {
		allSet[p] = true
	}
	for _, p := range d.Deleted {
		allSet[p] = true
	}
	for oldPath, newPath := range d.Renamed {
		allSet[oldPath] = true
		allSet[newPath] = true
	}
	d.All = make([]string, 0, len(allSet))
	for p := range allSet {
		d.All = append(d.All, p)
	}
	sort.Strings(d.All)
}

// DeltaStats is the bucket-count summary RunIncremental logs at the
// start of a run, before it knows how many entities each bucket
// resolves to.
type DeltaStats struct {
	AddedCount    int
	ModifiedCount int
	DeletedCount  int
	RenamedCount  int
	TotalChanged  int
}

// GetStats summarizes delta's bucket sizes.
func (d *GitDelta) GetStats() DeltaStats {
	return DeltaStats{
		AddedCount:    len(d.Added),
		ModifiedCount: len(d.Modified),
		DeletedCount:  len(d.Deleted),
		RenamedCount:  len(d.Renamed),
		TotalChanged:  len(d.All),
	}
}

// HasChanges reports whether delta touches any path at all; RunIncremental
// short-circuits to a no-op result when this is false instead of loading
// the prior snapshot for nothing.
func (d *GitDelta) HasChanges() bool {
	return len(d.All) > 0
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
