package dispatch

import (
	"context"
	"fmt"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/event"
)

// builtinProcessors returns the processors in the order they run.
func (d *Dispatcher) builtinProcessors() []Processor {
	return []Processor{
		{Name: "AutoSwitchAfterCreate", Watches: event.TypeSessionCreated, Handle: autoSwitchAfterCreate},
		{Name: "LoadIfUnloaded", Watches: event.TypeSessionSwitched, Handle: d.loadIfUnloaded},
		{Name: "EnsureMetaContext", Watches: event.TypeNextBlockInitiated, Handle: ensureMetaContextForNextBlock},
		{Name: "CreateSessionForMetaContext", Watches: event.TypeMetaContextEnsured, Handle: d.createSessionForMetaContext},
		{Name: "AssociateWithMetaContext", Watches: event.TypeSessionCreated, Handle: d.associateWithMetaContext},
		{Name: "SubmitPromptForNextBlock", Watches: event.TypeSessionAddedToMetaContext, Handle: d.submitPromptForNextBlock},
	}
}

func autoSwitchAfterCreate(ctx context.Context, ev event.Event, dispatch DispatchFunc) error {
	return dispatch(ctx, ev.SessionID, command.SwitchSession{})
}

func (d *Dispatcher) loadIfUnloaded(ctx context.Context, ev event.Event, dispatch DispatchFunc) error {
	s, ok := d.registry.Session(ev.SessionID)
	if !ok || s.Loaded {
		return nil
	}
	return dispatch(ctx, ev.SessionID, command.LoadSession{})
}

// ensureMetaContextForNextBlock starts the next-block saga. A block with no
// meta-context runs its command in the current session.
func ensureMetaContextForNextBlock(ctx context.Context, ev event.Event, dispatch DispatchFunc) error {
	p, ok := ev.Payload.(event.NextBlockInitiated)
	if !ok {
		return nil
	}
	if p.MetaContext == "" {
		if p.CommandText == "" {
			return nil
		}
		return dispatch(ctx, ev.SessionID, command.SubmitPrompt{Text: p.CommandText})
	}
	return dispatch(ctx, ev.SessionID, command.EnsureMetaContext{Name: p.MetaContext, CommandText: p.CommandText})
}

func (d *Dispatcher) createSessionForMetaContext(ctx context.Context, ev event.Event, dispatch DispatchFunc) error {
	p, ok := ev.Payload.(event.MetaContextEnsured)
	if !ok {
		return nil
	}
	key := PendingKey(p.MetaContextID, p.OriginSessionID)
	d.correlations.Put(key, Correlation{
		MetaContextID:   p.MetaContextID,
		CommandText:     p.CommandText,
		OriginSessionID: p.OriginSessionID,
	})
	if err := dispatch(withPendingKey(ctx, key), "", command.CreateSession{}); err != nil {
		d.correlations.Delete(key)
		return fmt.Errorf("create session for meta-context %q: %w", p.Name, err)
	}
	return nil
}

func (d *Dispatcher) associateWithMetaContext(ctx context.Context, ev event.Event, dispatch DispatchFunc) error {
	key, ok := pendingKeyFrom(ctx)
	if !ok {
		return nil
	}
	entry, ok := d.correlations.Rekey(key, ev.SessionID)
	if !ok {
		return nil
	}
	return dispatch(withPendingKey(ctx, ""), ev.SessionID, command.AddSessionToMetaContext{MetaContextID: entry.MetaContextID})
}

func (d *Dispatcher) submitPromptForNextBlock(ctx context.Context, ev event.Event, dispatch DispatchFunc) error {
	entry, ok := d.correlations.Take(string(ev.SessionID))
	if !ok || entry.CommandText == "" {
		return nil
	}
	return dispatch(ctx, ev.SessionID, command.SubmitPrompt{Text: entry.CommandText})
}
