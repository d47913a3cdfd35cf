// Package state holds the in-memory event log, the generic projection
// machinery, and the small file-backed stores that live next to them.
package state

import "github.com/user/agentloom/internal/types"

// Compile-time interface compliance checks.
var _ types.TranscriptIndex = (*TranscriptIndex)(nil)
var _ types.TranscriptStore = (*TranscriptStore)(nil)
