package readmodel

import (
	"maps"
	"slices"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// MetaContexts is the meta-context registry with its name index. Like
// Sessions it is copy-on-write. Version increases on every mutation.
type MetaContexts struct {
	byID    map[types.MetaContextID]types.MetaContext
	byName  map[string]types.MetaContextID
	order   []types.MetaContextID
	Version int
}

// NewMetaContexts hydrates a registry from persisted entries. Duplicate ids
// or names keep the first occurrence.
func NewMetaContexts(list []types.MetaContext) MetaContexts {
	m := MetaContexts{
		byID:   make(map[types.MetaContextID]types.MetaContext, len(list)),
		byName: make(map[string]types.MetaContextID, len(list)),
	}
	for _, mc := range list {
		if _, ok := m.byID[mc.ID]; ok {
			continue
		}
		if _, ok := m.byName[mc.Name]; ok {
			continue
		}
		mc.SessionIDs = slices.Clone(mc.SessionIDs)
		m.byID[mc.ID] = mc
		m.byName[mc.Name] = mc.ID
		m.order = append(m.order, mc.ID)
	}
	return m
}

// Get returns the meta-context with the given id.
func (m MetaContexts) Get(id types.MetaContextID) (types.MetaContext, bool) {
	mc, ok := m.byID[id]
	if ok {
		mc.SessionIDs = slices.Clone(mc.SessionIDs)
	}
	return mc, ok
}

// ByName looks up a meta-context through the name index.
func (m MetaContexts) ByName(name string) (types.MetaContext, bool) {
	id, ok := m.byName[name]
	if !ok {
		return types.MetaContext{}, false
	}
	return m.Get(id)
}

// List returns every meta-context in creation order.
func (m MetaContexts) List() []types.MetaContext {
	out := make([]types.MetaContext, 0, len(m.order))
	for _, id := range m.order {
		mc, _ := m.Get(id)
		out = append(out, mc)
	}
	return out
}

// Len returns the number of meta-contexts.
func (m MetaContexts) Len() int {
	return len(m.order)
}

// ReduceMetaContexts applies MetaContextEnsured (created only) and
// SessionAddedToMetaContext. Adding a session twice is a no-op.
func ReduceMetaContexts(m MetaContexts, ev event.Event) MetaContexts {
	switch p := ev.Payload.(type) {
	case event.MetaContextEnsured:
		if !p.Created {
			return m
		}
		if _, ok := m.byID[p.MetaContextID]; ok {
			return m
		}
		if _, ok := m.byName[p.Name]; ok {
			return m
		}
		next := m.clone()
		next.byID[p.MetaContextID] = types.MetaContext{ID: p.MetaContextID, Name: p.Name, SessionIDs: []types.SessionID{}}
		next.byName[p.Name] = p.MetaContextID
		next.order = append(slices.Clip(next.order), p.MetaContextID)
		return next
	case event.SessionAddedToMetaContext:
		mc, ok := m.byID[p.MetaContextID]
		if !ok || ev.SessionID == "" || slices.Contains(mc.SessionIDs, ev.SessionID) {
			return m
		}
		next := m.clone()
		mc.SessionIDs = append(slices.Clip(mc.SessionIDs), ev.SessionID)
		next.byID[p.MetaContextID] = mc
		return next
	default:
		return m
	}
}

func (m MetaContexts) clone() MetaContexts {
	next := MetaContexts{
		byID:    maps.Clone(m.byID),
		byName:  maps.Clone(m.byName),
		order:   m.order,
		Version: m.Version + 1,
	}
	if next.byID == nil {
		next.byID = make(map[types.MetaContextID]types.MetaContext)
	}
	if next.byName == nil {
		next.byName = make(map[string]types.MetaContextID)
	}
	return next
}
