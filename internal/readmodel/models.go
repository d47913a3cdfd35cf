package readmodel

import (
	"fmt"
	"log/slog"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

// Models owns the projections the rest of the process reads from.
type Models struct {
	sessions     *state.Projection[Sessions]
	metaContexts *state.Projection[MetaContexts]
	latest       *state.Projection[types.SessionID]
	logger       *slog.Logger
}

// New hydrates the meta-context registry from file and builds every
// projection over log. After each registry mutation the file is rewritten;
// a failed write is logged and otherwise ignored. file may be nil.
func New(log *state.EventLog, file *state.MetaContextFile, logger *slog.Logger) (*Models, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "readmodel")

	var persisted []types.MetaContext
	if file != nil {
		var err error
		persisted, err = file.Load()
		if err != nil {
			return nil, fmt.Errorf("hydrate meta-contexts: %w", err)
		}
	}

	m := &Models{logger: logger}
	m.sessions = state.NewProjection(log, Sessions{}, ReduceSessions)
	m.metaContexts = state.NewProjection(log, NewMetaContexts(persisted), ReduceMetaContexts)
	m.latest = state.NewProjection(log, types.SessionID(""), ReduceLatest)

	if file != nil {
		saved := m.metaContexts.State().Version
		m.metaContexts.OnChange(func(mc MetaContexts, ev event.Event) {
			if mc.Version == saved {
				return
			}
			saved = mc.Version
			if err := file.Save(mc.List()); err != nil {
				logger.Error("persist meta-contexts", "path", file.Path(), "seq", ev.Seq, "error", err)
			}
		})
		if saved > 0 {
			// Events already in the log changed the hydrated registry.
			if err := file.Save(m.metaContexts.State().List()); err != nil {
				logger.Error("persist meta-contexts", "path", file.Path(), "error", err)
			}
		}
	}
	return m, nil
}

// Session returns the registry entry for id.
func (m *Models) Session(id types.SessionID) (SessionMeta, bool) {
	s, ok := m.sessions.State()[id]
	return s, ok
}

// Sessions returns the full session registry. Callers must not modify it.
func (m *Models) Sessions() Sessions {
	return m.sessions.State()
}

// MetaContextByName looks up a meta-context by its display name.
func (m *Models) MetaContextByName(name string) (types.MetaContext, bool) {
	return m.metaContexts.State().ByName(name)
}

// MetaContext returns the meta-context with the given id.
func (m *Models) MetaContext(id types.MetaContextID) (types.MetaContext, bool) {
	return m.metaContexts.State().Get(id)
}

// MetaContexts returns the current meta-context registry.
func (m *Models) MetaContexts() MetaContexts {
	return m.metaContexts.State()
}

// LatestSession returns the newest created or switched-to session, or "".
func (m *Models) LatestSession() types.SessionID {
	return m.latest.State()
}

// SessionList builds a fresh snapshot.
func (m *Models) SessionList() SessionList {
	return Build(m.sessions.State(), m.metaContexts.State())
}

// Close detaches every projection from the log.
func (m *Models) Close() {
	m.sessions.Close()
	m.metaContexts.Close()
	m.latest.Close()
}
