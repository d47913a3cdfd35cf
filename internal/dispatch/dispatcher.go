// Package dispatch turns commands into events and runs the processors that
// chain further commands off those events.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/metrics"
	"github.com/user/agentloom/internal/readmodel"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

var (
	ErrUnknownSession     = errors.New("unknown session")
	ErrNotLoaded          = errors.New("session not loaded")
	ErrUnknownMetaContext = errors.New("unknown meta-context")
)

// Bridge is the agent runtime the dispatcher calls out to. Calls are made
// with no dispatcher lock held and may block.
type Bridge interface {
	CreateSession(ctx context.Context) (types.SessionID, error)
	LoadSession(ctx context.Context, id types.SessionID) error
	SubmitPrompt(ctx context.Context, id types.SessionID, text string, images []event.Image, skipEvent bool) error
	Cancel(ctx context.Context, id types.SessionID) error
}

// Registry answers the read-model lookups handlers and processors need.
type Registry interface {
	Session(id types.SessionID) (readmodel.SessionMeta, bool)
	MetaContextByName(name string) (types.MetaContext, bool)
	MetaContext(id types.MetaContextID) (types.MetaContext, bool)
}

// DispatchFunc is the signature processors use to issue follow-on commands.
type DispatchFunc func(ctx context.Context, sessionID types.SessionID, cmd command.Command) error

// Processor reacts to every appended event of type Watches. Handle filters
// by payload or session itself.
type Processor struct {
	Name    string
	Watches event.Type
	Handle  func(ctx context.Context, ev event.Event, dispatch DispatchFunc) error
}

// Dispatcher executes commands on the caller's goroutine.
type Dispatcher struct {
	log          *state.EventLog
	registry     Registry
	bridge       Bridge
	epoch        types.Epoch
	processors   []Processor
	correlations *Correlations
	newMetaID    func() types.MetaContextID
	logger       *slog.Logger

	ensureMu sync.Mutex
	loads    singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEpoch fixes the process epoch instead of minting a fresh one.
func WithEpoch(e types.Epoch) Option {
	return func(d *Dispatcher) { d.epoch = e }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetaContextIDs replaces the meta-context id generator.
func WithMetaContextIDs(gen func() types.MetaContextID) Option {
	return func(d *Dispatcher) { d.newMetaID = gen }
}

// New creates a Dispatcher with the built-in processors registered.
func New(log *state.EventLog, registry Registry, bridge Bridge, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:          log,
		registry:     registry,
		bridge:       bridge,
		epoch:        types.NewEpoch(),
		correlations: newCorrelations(),
		newMetaID:    types.NewMetaContextID,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	d.processors = d.builtinProcessors()
	return d
}

// Epoch identifies this process lifetime.
func (d *Dispatcher) Epoch() types.Epoch {
	return d.epoch
}

// Correlations exposes the saga correlation table.
func (d *Dispatcher) Correlations() *Correlations {
	return d.correlations
}

// Dispatch runs cmd against sessionID. Expected failures are recorded as
// ErrorOccurred events and Dispatch returns nil; only failures with no
// session to report on, such as the bridge failing to create a session,
// are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID types.SessionID, cmd command.Command) error {
	d.logger.Debug("dispatch", "command", cmd.CommandName(), "session", sessionID)
	return d.finish(sessionID, cmd, d.handle(ctx, sessionID, cmd))
}

// CreateSession creates a session and returns the id the bridge assigned.
func (d *Dispatcher) CreateSession(ctx context.Context) (types.SessionID, error) {
	cmd := command.CreateSession{}
	d.logger.Debug("dispatch", "command", cmd.CommandName())
	id, err := d.createSession(ctx)
	if err := d.finish("", cmd, err); err != nil {
		return "", err
	}
	return id, nil
}

// finish records the outcome of cmd and swallows rejections.
func (d *Dispatcher) finish(sessionID types.SessionID, cmd command.Command, err error) error {
	outcome := "ok"
	var rej *rejection
	switch {
	case err == nil:
	case errors.As(err, &rej):
		outcome = "rejected"
		err = nil
	default:
		outcome = "error"
		d.logger.Error("command failed", "command", cmd.CommandName(), "session", sessionID, "error", err)
	}
	metrics.CommandsTotal.WithLabelValues(cmd.CommandName(), outcome).Inc()
	return err
}

// ReportStartupFailure records a failure that happened before any session
// existed under the reserved global session id.
func (d *Dispatcher) ReportStartupFailure(ctx context.Context, err error) {
	d.emit(ctx, types.GlobalSessionID, event.ErrorOccurred{Message: err.Error()})
}

// Submit sends text to a known session, loading it first when only its
// transcript has been discovered. It returns ErrUnknownSession so HTTP and
// chat callers can answer before anything is appended.
func (d *Dispatcher) Submit(ctx context.Context, id types.SessionID, text string, skipEvent bool) error {
	s, ok := d.registry.Session(id)
	if !ok {
		return ErrUnknownSession
	}
	if !s.Loaded {
		if err := d.Dispatch(ctx, id, command.LoadSession{}); err != nil {
			return err
		}
	}
	return d.Dispatch(ctx, id, command.SubmitPrompt{Text: text, SkipEvent: skipEvent})
}

// rejection marks an expected failure that has already been turned into an
// ErrorOccurred event.
type rejection struct {
	err error
}

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

func (d *Dispatcher) reject(ctx context.Context, sessionID types.SessionID, cmd command.Command, err error) error {
	d.emit(ctx, sessionID, event.ErrorOccurred{Message: err.Error(), Command: cmd.CommandName()})
	return &rejection{err: err}
}

// emit appends a live event and runs its processors.
func (d *Dispatcher) emit(ctx context.Context, sessionID types.SessionID, p event.Payload) event.Event {
	ev := d.log.Append(sessionID, p)
	d.runProcessors(ctx, ev)
	return ev
}

func (d *Dispatcher) runProcessors(ctx context.Context, ev event.Event) {
	for _, p := range d.processors {
		if p.Watches != ev.Type {
			continue
		}
		if err := p.Handle(ctx, ev, d.Dispatch); err != nil {
			d.logger.Error("processor failed", "processor", p.Name, "seq", ev.Seq, "session", ev.SessionID, "error", err)
			metrics.ProcessorFailuresTotal.WithLabelValues(p.Name).Inc()
			target := ev.SessionID
			if target == "" {
				target = types.GlobalSessionID
			}
			d.emit(ctx, target, event.ErrorOccurred{Message: err.Error(), Command: p.Name})
		}
	}
}
