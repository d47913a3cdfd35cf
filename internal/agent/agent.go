// Package agent is the bridge between the dispatcher and an LLM. It owns the
// per-session transcripts, runs one turn at a time per session through the
// gateway queue, and reports everything the model does back as commands.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/user/agentloom/internal/agent/tools"
	"github.com/user/agentloom/internal/command"
	ctxengine "github.com/user/agentloom/internal/context"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/gateway"
	"github.com/user/agentloom/internal/metrics"
	"github.com/user/agentloom/internal/types"
	"github.com/user/agentloom/pkg/llm"
)

const (
	defaultMaxRounds    = 10
	defaultHistoryLimit = 200
	maxToolOutput       = 16000
	maxEventOutput      = 2000
	maxTitleLen         = 60
	maxWorkspaceFiles   = 1000
)

// Stop reasons reported through CompleteTurn.
const (
	StopEndTurn   = "end_turn"
	StopMaxRounds = "max_turn_requests"
	StopCancelled = "cancelled"
	StopError     = "error"
)

// Dispatcher receives the commands the agent issues while it works.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID types.SessionID, cmd command.Command) error
}

// ReplayRecorder rebuilds a session's event history when it is loaded.
// Replayed events never reach processors.
type ReplayRecorder interface {
	AppendReplay(sessionID types.SessionID, p event.Payload) event.Event
}

type Config struct {
	Provider    llm.Provider
	Engine      *ctxengine.Engine
	Index       types.TranscriptIndex
	Transcripts types.TranscriptStore
	Tools       *Registry
	Replay      ReplayRecorder

	MaxConcurrent int64
	MaxRounds     int
	// HistoryLimit caps the transcript entries replayed on load and offered
	// to the context engine.
	HistoryLimit int
	Retry        *gateway.RetryPolicy
	// Workspace, when set, is scanned after every turn and published as
	// UpdateFileList.
	Workspace string
	Logger    *slog.Logger
}

// Agent implements the dispatcher's Bridge.
type Agent struct {
	cfg    Config
	queue  *gateway.Queue
	logger *slog.Logger

	mu         sync.Mutex
	dispatcher Dispatcher
	files      []string
}

func New(cfg Config) *Agent {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Retry == nil {
		cfg.Retry = gateway.DefaultRetryPolicy()
	}
	if cfg.Tools == nil {
		cfg.Tools = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "agent")
	if cfg.Retry.OnRetry == nil {
		policy := *cfg.Retry
		policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			metrics.LLMRetriesTotal.Inc()
			logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
		}
		cfg.Retry = &policy
	}
	a := &Agent{
		cfg:    cfg,
		queue:  gateway.NewQueue(cfg.MaxConcurrent, logger),
		logger: logger,
	}
	a.queue.SetProcessor(a.processRun)
	return a
}

// Attach sets the dispatcher that receives the agent's commands. The
// dispatcher needs the agent to exist first, hence the two-step wiring.
func (a *Agent) Attach(d Dispatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatcher = d
}

func (a *Agent) dispatch(ctx context.Context, id types.SessionID, cmd command.Command) {
	a.mu.Lock()
	d := a.dispatcher
	a.mu.Unlock()
	if d == nil {
		a.logger.Warn("no dispatcher attached", "command", cmd.CommandName())
		return
	}
	if err := d.Dispatch(context.WithoutCancel(ctx), id, cmd); err != nil {
		a.logger.Error("dispatch failed", "command", cmd.CommandName(), "session", id, "error", err)
	}
}

// Start begins processing turns. It fails when the provider is missing so
// the caller can report the bridge as unavailable.
func (a *Agent) Start(ctx context.Context) error {
	if a.cfg.Provider == nil {
		return errors.New("agent: no LLM provider configured")
	}
	if a.cfg.Engine == nil {
		return errors.New("agent: no context engine configured")
	}
	a.queue.Start(ctx)
	return nil
}

// Stop cancels running turns and waits for the lanes to exit.
func (a *Agent) Stop() {
	a.queue.Stop()
}

// Discover announces every known transcript to the dispatcher.
func (a *Agent) Discover(ctx context.Context) error {
	list, err := a.cfg.Index.List(ctx)
	if err != nil {
		return fmt.Errorf("list transcripts: %w", err)
	}
	for _, info := range list {
		a.dispatch(ctx, info.SessionID, command.DiscoverSession{
			Name:      info.Name,
			Title:     info.Title,
			CreatedAt: info.CreatedAt,
		})
	}
	a.logger.Info("sessions discovered", "count", len(list))
	return nil
}

func (a *Agent) CreateSession(ctx context.Context) (types.SessionID, error) {
	info, err := a.cfg.Index.Create(ctx, time.Now().Format("2006-01-02 15:04:05"))
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	a.logger.Info("session created", "session", info.SessionID)
	return info.SessionID, nil
}

// LoadSession replays the tail of the session's transcript into the event
// log.
func (a *Agent) LoadSession(ctx context.Context, id types.SessionID) error {
	if _, err := a.cfg.Index.Get(ctx, id); err != nil {
		return err
	}
	entries, err := a.cfg.Transcripts.Tail(ctx, id, a.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	for _, entry := range entries {
		if p := a.replayPayload(entry); p != nil {
			a.cfg.Replay.AppendReplay(id, p)
		}
	}
	a.logger.Info("session loaded", "session", id, "entries", len(entries))
	return nil
}

func (a *Agent) replayPayload(entry *types.TranscriptEntry) event.Payload {
	switch entry.Role {
	case types.RoleUser:
		return event.PromptSubmitted{Text: entry.Text}
	case types.RoleAssistant:
		return event.AgentText{Text: entry.Text}
	case types.RoleToolCall:
		kind := "other"
		if t, ok := a.cfg.Tools.Get(entry.Tool); ok {
			kind = toolKind(t)
		}
		args := llm.FunctionCall{Arguments: []byte(entry.Arguments)}.ArgumentsJSON()
		return event.ToolCallStarted{ToolCallID: entry.CallID, Title: entry.Tool, Kind: kind, Input: args}
	case types.RoleToolResult:
		return event.ToolCallCompleted{ToolCallID: entry.CallID, Status: toolStatus(entry.Text), Output: truncate(entry.Text, maxEventOutput)}
	case types.RoleError:
		return event.ErrorOccurred{Message: entry.Text}
	default:
		return nil
	}
}

// SubmitPrompt queues a turn. Ephemeral prompts are answered but not
// written to the transcript.
func (a *Agent) SubmitPrompt(_ context.Context, id types.SessionID, text string, images []event.Image, skipEvent bool) error {
	run := gateway.NewRun(id, text, images)
	run.Ephemeral = skipEvent
	if err := a.queue.Enqueue(run); err != nil {
		return err
	}
	a.logger.Debug("turn queued", "session", id, "run_id", run.ID)
	return nil
}

func (a *Agent) Cancel(_ context.Context, id types.SessionID) error {
	if !a.queue.Cancel(id) {
		a.logger.Debug("cancel with no running turn", "session", id)
	}
	return nil
}

// Busy reports whether the session has a turn running or queued.
func (a *Agent) Busy(id types.SessionID) bool {
	return a.queue.Busy(id)
}

// WaitIdle waits for running turns to finish.
func (a *Agent) WaitIdle(timeout time.Duration) bool {
	return a.queue.WaitIdle(timeout)
}

// RefreshFiles publishes the workspace file list when it changed since the
// last call.
func (a *Agent) RefreshFiles(ctx context.Context) {
	if a.cfg.Workspace == "" {
		return
	}
	files, err := tools.ListWorkspace(a.cfg.Workspace, maxWorkspaceFiles)
	if err != nil {
		a.logger.Warn("workspace scan failed", "error", err)
		return
	}
	a.mu.Lock()
	changed := a.files == nil || !slices.Equal(a.files, files)
	if changed {
		a.files = files
		if a.files == nil {
			a.files = []string{}
		}
	}
	a.mu.Unlock()
	if changed {
		a.dispatch(ctx, "", command.UpdateFileList{Files: files})
	}
}

func (a *Agent) record(ctx context.Context, id types.SessionID, entry *types.TranscriptEntry) {
	entry.At = time.Now()
	if err := a.cfg.Transcripts.Append(ctx, id, entry); err != nil {
		a.logger.Error("transcript append failed", "session", id, "role", entry.Role, "error", err)
	}
}

func toolStatus(output string) string {
	if strings.HasPrefix(output, "error: ") {
		return "failed"
	}
	return "completed"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}

// titleFrom derives a session title from the first line of an answer.
func titleFrom(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(strings.TrimLeft(line, "#*> "))
	if utf8.RuneCountInString(line) > maxTitleLen {
		runes := []rune(line)
		line = strings.TrimSpace(string(runes[:maxTitleLen])) + "…"
	}
	return line
}
