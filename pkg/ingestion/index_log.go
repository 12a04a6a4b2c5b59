// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var indexLogMu sync.Mutex

// AppendIndexLog appends one line to <project_folder>/.cgraph/index.log
// for indexing diagnostics. dotCgraphDir is the path to the .cgraph
// directory (e.g. filepath.Join(repoPath, ".cgraph")). Line format is
// ISO8601 + " " + message, so `grep "pkg/foo.c" .cgraph/index.log` finds
// every event touching a given file. Reindex milestones are additionally
// mirrored to stderr so they surface without the per-file noise.
func AppendIndexLog(dotCgraphDir, message string) {
	if dotCgraphDir == "" {
		return
	}
	indexLogMu.Lock()
	defer indexLogMu.Unlock()
	if err := os.MkdirAll(dotCgraphDir, 0750); err != nil {
		return
	}
	logPath := filepath.Join(dotCgraphDir, "index.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return
	}
	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), message)
	_, _ = f.WriteString(line)
	_ = f.Close()
	if isReindexEvent(message) {
		_, _ = os.Stderr.WriteString("[cgraph index.log] " + message + "\n")
	}
}

func isReindexEvent(message string) bool {
	return len(message) >= 8 && message[:8] == "reindex "
}
