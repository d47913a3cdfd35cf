package dispatch

import (
	"context"
	"fmt"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

func (d *Dispatcher) handle(ctx context.Context, id types.SessionID, cmd command.Command) error {
	switch c := cmd.(type) {
	case command.CreateSession:
		_, err := d.createSession(ctx)
		return err
	case command.SwitchSession:
		if _, ok := d.registry.Session(id); !ok {
			return d.reject(ctx, id, cmd, fmt.Errorf("switch to %s: %w", id, ErrUnknownSession))
		}
		d.emit(ctx, id, event.SessionSwitched{Epoch: d.epoch})
		return nil
	case command.LoadSession:
		return d.loadSession(ctx, id, cmd)
	case command.SubmitPrompt:
		return d.submitPrompt(ctx, id, c)
	case command.Cancel:
		if _, ok := d.registry.Session(id); !ok {
			return d.reject(ctx, id, cmd, fmt.Errorf("cancel %s: %w", id, ErrUnknownSession))
		}
		if err := d.bridge.Cancel(ctx, id); err != nil {
			return d.reject(ctx, id, cmd, fmt.Errorf("cancel: %w", err))
		}
		return nil
	case command.DiscoverSession:
		if _, ok := d.registry.Session(id); ok {
			return nil
		}
		d.emit(ctx, id, event.SessionDiscovered{Name: c.Name, Title: c.Title, CreatedAt: c.CreatedAt})
		return nil
	case command.EnsureMetaContext:
		d.ensureMetaContext(ctx, id, c)
		return nil
	case command.AddSessionToMetaContext:
		mc, ok := d.registry.MetaContext(c.MetaContextID)
		if !ok {
			return d.reject(ctx, id, cmd, fmt.Errorf("add session to %s: %w", c.MetaContextID, ErrUnknownMetaContext))
		}
		d.emit(ctx, id, event.SessionAddedToMetaContext{MetaContextID: mc.ID, Name: mc.Name})
		return nil
	case command.NextBlockClick:
		d.emit(ctx, id, event.NextBlockInitiated{Label: c.Label, CommandText: c.CommandText, MetaContext: c.MetaContext})
		return nil
	case command.RecordAgentText:
		d.emit(ctx, id, event.AgentText{Text: c.Text})
	case command.RecordAgentThought:
		d.emit(ctx, id, event.AgentThought{Text: c.Text})
	case command.RecordToolCallStarted:
		d.emit(ctx, id, event.ToolCallStarted{ToolCallID: c.ToolCallID, Title: c.Title, Kind: c.Kind, Input: c.Input})
	case command.RecordToolCallUpdated:
		d.emit(ctx, id, event.ToolCallUpdated{ToolCallID: c.ToolCallID, Status: c.Status, Content: c.Content})
	case command.RecordToolCallCompleted:
		d.emit(ctx, id, event.ToolCallCompleted{ToolCallID: c.ToolCallID, Status: c.Status, Output: c.Output})
	case command.RecordUsageUpdated:
		d.emit(ctx, id, event.UsageUpdated{InputTokens: c.InputTokens, OutputTokens: c.OutputTokens, TotalTokens: c.TotalTokens})
	case command.RecordSessionInfoUpdated:
		d.emit(ctx, id, event.SessionInfoUpdated{Title: c.Title})
	case command.CompleteTurn:
		d.emit(ctx, id, event.TurnCompleted{StopReason: c.StopReason})
	case command.RecordError:
		d.emit(ctx, id, event.ErrorOccurred{Message: c.Message})
	case command.UpdateFileList:
		ev := d.log.AppendGlobal(event.FileListUpdated{Files: c.Files})
		d.runProcessors(ctx, ev)
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
	return nil
}

func (d *Dispatcher) createSession(ctx context.Context) (types.SessionID, error) {
	id, err := d.bridge.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	d.emit(ctx, id, event.SessionCreated{})
	return id, nil
}

// loadSession collapses concurrent loads of one session into a single
// bridge call and a single SessionLoaded event.
func (d *Dispatcher) loadSession(ctx context.Context, id types.SessionID, cmd command.Command) error {
	_, err, _ := d.loads.Do(string(id), func() (any, error) {
		s, ok := d.registry.Session(id)
		if !ok {
			return nil, d.reject(ctx, id, cmd, fmt.Errorf("load %s: %w", id, ErrUnknownSession))
		}
		if s.Loaded {
			return nil, nil
		}
		if err := d.bridge.LoadSession(ctx, id); err != nil {
			return nil, d.reject(ctx, id, cmd, fmt.Errorf("load session: %w", err))
		}
		d.emit(ctx, id, event.SessionLoaded{})
		return nil, nil
	})
	return err
}

func (d *Dispatcher) submitPrompt(ctx context.Context, id types.SessionID, c command.SubmitPrompt) error {
	s, ok := d.registry.Session(id)
	if !ok {
		return d.reject(ctx, id, c, fmt.Errorf("submit prompt to %s: %w", id, ErrUnknownSession))
	}
	if !s.Loaded {
		return d.reject(ctx, id, c, fmt.Errorf("submit prompt to %s: %w", id, ErrNotLoaded))
	}
	if !c.SkipEvent {
		d.emit(ctx, id, event.PromptSubmitted{Text: c.Text, Images: c.Images})
	}
	if err := d.bridge.SubmitPrompt(ctx, id, c.Text, c.Images, c.SkipEvent); err != nil {
		return d.reject(ctx, id, c, fmt.Errorf("submit prompt: %w", err))
	}
	return nil
}

// ensureMetaContext holds ensureMu across lookup and append so two
// concurrent calls for one name cannot both create it. Processors run after
// the lock is released.
func (d *Dispatcher) ensureMetaContext(ctx context.Context, origin types.SessionID, c command.EnsureMetaContext) {
	d.ensureMu.Lock()
	p := event.MetaContextEnsured{
		Name:            c.Name,
		OriginSessionID: origin,
		CommandText:     c.CommandText,
	}
	if mc, ok := d.registry.MetaContextByName(c.Name); ok {
		p.MetaContextID = mc.ID
	} else {
		p.MetaContextID = d.newMetaID()
		p.Created = true
	}
	ev := d.log.Append(origin, p)
	d.ensureMu.Unlock()

	d.runProcessors(ctx, ev)
}
