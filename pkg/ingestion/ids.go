// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import "sync/atomic"

// IDCounter issues monotonically increasing entity ids. A single mutable
// integer, atomically incremented — the spec requires every id-issue be
// atomic so that parallel per-file extraction can append into a shared
// entity list without racing on identity.
type IDCounter struct {
	next int64
}

// NewIDCounter creates a counter that will first issue id 1.
func NewIDCounter() *IDCounter {
	return &IDCounter{next: 0}
}

// ResumeFrom configures the counter so the next issued id is max+1. Used
// by the incremental engine to continue numbering from a prior run.
func ResumeFrom(max ID) *IDCounter {
	return &IDCounter{next: int64(max)}
}

// Next issues the next id.
func (c *IDCounter) Next() ID {
	return ID(atomic.AddInt64(&c.next, 1))
}

// Peek returns the highest id issued so far without issuing a new one.
func (c *IDCounter) Peek() ID {
	return ID(atomic.LoadInt64(&c.next))
}
