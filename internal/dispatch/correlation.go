package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/agentloom/internal/types"
)

// Correlation carries next-block state across the saga steps.
type Correlation struct {
	MetaContextID   types.MetaContextID
	CommandText     string
	OriginSessionID types.SessionID
}

// PendingKey is the key used before the new session id is known.
func PendingKey(mc types.MetaContextID, origin types.SessionID) string {
	return fmt.Sprintf("pending:%s:%s", mc, origin)
}

// Correlations is the saga correlation table. Entries are removed once
// consumed. An entry whose saga never finishes stays until the process
// exits.
type Correlations struct {
	mu      sync.Mutex
	entries map[string]Correlation
}

func newCorrelations() *Correlations {
	return &Correlations{entries: make(map[string]Correlation)}
}

func (c *Correlations) Put(key string, entry Correlation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

// Rekey moves the entry stored under from to the session id to.
func (c *Correlations) Rekey(from string, to types.SessionID) (Correlation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[from]
	if !ok {
		return Correlation{}, false
	}
	delete(c.entries, from)
	c.entries[string(to)] = entry
	return entry, true
}

// Take removes and returns the entry stored under key.
func (c *Correlations) Take(key string) (Correlation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return entry, ok
}

func (c *Correlations) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Correlations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type pendingKeyCtx struct{}

// withPendingKey marks the CreateSession dispatch issued for a saga so the
// resulting SessionCreated is matched to its own pending entry, even when
// several sagas run at once.
func withPendingKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, pendingKeyCtx{}, key)
}

func pendingKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(pendingKeyCtx{}).(string)
	return key, ok && key != ""
}
