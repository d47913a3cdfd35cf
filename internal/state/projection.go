// internal/state/projection.go
package state

import (
	"sync"

	"github.com/user/agentloom/internal/event"
)

// Reducer folds one event into a read model. Reducers must be pure and
// total: unknown event types return the state unchanged.
type Reducer[S any] func(S, event.Event) S

// Projection keeps a read model in sync with the event log.
type Projection[S any] struct {
	mu      sync.RWMutex
	state   S
	reducer Reducer[S]
	hooks   []func(S, event.Event)
	cancel  func()
}

// NewProjection folds every existing event through reducer, then follows
// the log incrementally, replayed transcript events included.
func NewProjection[S any](log *EventLog, initial S, reducer Reducer[S]) *Projection[S] {
	p := &Projection[S]{state: initial, reducer: reducer}
	p.cancel = log.Fold(p.apply)
	return p
}

func (p *Projection[S]) apply(ev event.Event) {
	p.mu.Lock()
	p.state = p.reducer(p.state, ev)
	state := p.state
	hooks := p.hooks
	p.mu.Unlock()

	for _, h := range hooks {
		h(state, ev)
	}
}

// State returns the latest derived value.
func (p *Projection[S]) State() S {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// OnChange registers fn to run after every fold. Hooks run on the appending
// goroutine with the log locked.
func (p *Projection[S]) OnChange(fn func(S, event.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// Close stops following the log.
func (p *Projection[S]) Close() {
	p.cancel()
}
