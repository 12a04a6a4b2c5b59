// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// HashDeltaDetector detects file changes by comparing content hashes
// against the prior run's file_hashes.json. Works without Git - suitable
// for any VCS or no VCS at all (the fallback path of the VCS contract in
// §6: "if the directory is not a repository, the engine ... performs a
// full extraction" still needs a way to tell a first run from a no-op
// re-run, which this detector supplies).
type HashDeltaDetector struct {
	logger    *slog.Logger
	repoPath  string
	outputDir string
}

// NewHashDeltaDetector creates a hash-based delta detector reading the
// prior run's per-file content hashes (file_hashes.json) from outputDir.
func NewHashDeltaDetector(repoPath, outputDir string, logger *slog.Logger) *HashDeltaDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HashDeltaDetector{
		logger:    logger,
		repoPath:  repoPath,
		outputDir: outputDir,
	}
}

// FileHashState represents the stored hash for a file.
type FileHashState struct {
	Path string
	Hash string
}

// DetectChanges compares current files with stored hashes and returns delta.
// - currentFiles: files discovered on disk (from DiscoverFiles)
// Returns GitDelta-style result with Added, Modified, Deleted lists.
func (hd *HashDeltaDetector) DetectChanges(ctx context.Context, currentFiles []FileInfo) (*GitDelta, error) {
	delta := &GitDelta{
		Renamed: make(map[string]string),
	}

	// Load stored file hashes from file_hashes.json
	storedHashes, err := hd.loadStoredHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored hashes: %w", err)
	}

	// Build map of current files by path for quick lookup
	currentMap := make(map[string]FileInfo, len(currentFiles))
	for _, f := range currentFiles {
		currentMap[f.Path] = f
	}

	// Build map of stored files by path
	storedMap := make(map[string]string, len(storedHashes))
	for _, s := range storedHashes {
		storedMap[s.Path] = s.Hash
	}

	hd.logger.Info("hash_delta.compare",
		"stored_files", len(storedMap),
		"current_files", len(currentFiles),
	)

	// Find added and modified files
	for _, current := range currentFiles {
		storedHash, exists := storedMap[current.Path]
		if !exists {
			// New file (no stored hash)
			delta.Added = append(delta.Added, current.Path)
			AppendIndexLog(filepath.Join(hd.repoPath, ".cgraph"),
				fmt.Sprintf("added %s", current.Path))
		} else {
			// Existing file - need to compare hash
			hash, err := hd.computeFileHash(current.FullPath)
			if err != nil {
				hd.logger.Warn("hash_delta.hash_failed", "path", current.Path, "err", err)
				AppendIndexLog(filepath.Join(hd.repoPath, ".cgraph"),
					fmt.Sprintf("hash_failed %s: %v", current.Path, err))
				continue
			}
			if hash != storedHash {
				delta.Modified = append(delta.Modified, current.Path)
				AppendIndexLog(filepath.Join(hd.repoPath, ".cgraph"),
					fmt.Sprintf("modified %s", current.Path))
			}
		}
	}

	// Find deleted files (stored hash but not on disk)
	for _, stored := range storedHashes {
		if _, exists := currentMap[stored.Path]; !exists {
			delta.Deleted = append(delta.Deleted, stored.Path)
			AppendIndexLog(filepath.Join(hd.repoPath, ".cgraph"),
				fmt.Sprintf("deleted %s", stored.Path))
		}
	}

	rebuildAllList(delta)
	hd.logger.Info("hash_delta.complete",
		"added", len(delta.Added),
		"modified", len(delta.Modified),
		"deleted", len(delta.Deleted),
	)

	return delta, nil
}

// loadStoredHashes retrieves the file hashes recorded by the previous
// run's SaveFileHashes call. A missing file means no prior run exists.
func (hd *HashDeltaDetector) loadStoredHashes(ctx context.Context) ([]FileHashState, error) {
	_ = ctx
	stored, err := LoadFileHashes(hd.outputDir)
	if err != nil {
		hd.logger.Warn("hash_delta.load_hashes_error", "err", err)
		return nil, fmt.Errorf("load file hashes: %w", err)
	}

	states := make([]FileHashState, 0, len(stored))
	for path, hash := range stored {
		states = append(states, FileHashState{Path: path, Hash: hash})
	}
	return states, nil
}

// computeFileHash computes SHA256 hash of file content.
func (hd *HashDeltaDetector) computeFileHash(fullPath string) (string, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:]), nil
}

// IsAvailable reports whether a prior snapshot exists for outputDir.
func (hd *HashDeltaDetector) IsAvailable() bool {
	_, err := os.Stat(filepath.Join(hd.outputDir, fileHashesName))
	return err == nil
}

// SaveFileHashes persists the current content hash of every ingested file
// to outputDir, so the next run's HashDeltaDetector has something to
// compare against.
func SaveFileHashes(outputDir string, hashes map[string]string) error {
	return writeJSON(filepath.Join(outputDir, fileHashesName), hashes)
}

// LoadFileHashes reads back the hashes saved by SaveFileHashes, returning
// an empty map if none exist yet.
func LoadFileHashes(outputDir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, fileHashesName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	hashes := make(map[string]string)
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

const fileHashesName = "file_hashes.json"
