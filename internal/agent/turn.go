package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/gateway"
	"github.com/user/agentloom/internal/metrics"
	"github.com/user/agentloom/internal/types"
	"github.com/user/agentloom/pkg/llm"
)

// processRun executes the turn loop for a single run. It is the gateway
// queue's processor.
func (a *Agent) processRun(run *gateway.Run) error {
	ctx := run.Ctx
	id := run.SessionID
	logger := a.logger.With("session", id, "run_id", run.ID)

	info, err := a.cfg.Index.Get(ctx, id)
	if err != nil {
		return a.failTurn(ctx, id, fmt.Errorf("load session: %w", err))
	}
	history, err := a.cfg.Transcripts.Tail(ctx, id, a.cfg.HistoryLimit)
	if err != nil {
		return a.failTurn(ctx, id, fmt.Errorf("load transcript: %w", err))
	}

	if !run.Ephemeral {
		a.record(ctx, id, &types.TranscriptEntry{Role: types.RoleUser, Text: run.Prompt})
	}
	turn := []llm.Message{{Role: "user", Content: run.Prompt, Images: toLLMImages(run)}}

	toolNames := a.cfg.Tools.Names()
	llmTools := a.cfg.Tools.AsLLMTools()
	var usage llm.Usage

	for round := 0; round < a.cfg.MaxRounds; round++ {
		messages, err := a.cfg.Engine.BuildPrompt(info, history, turn, toolNames)
		if err != nil {
			return a.failTurn(ctx, id, fmt.Errorf("build prompt: %w", err))
		}

		var resp *llm.Response
		err = a.cfg.Retry.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = a.cfg.Provider.Complete(ctx, messages, llmTools)
			if callErr != nil && ctx.Err() == nil {
				logger.Warn("LLM call failed", "round", round, "error", callErr)
			}
			return callErr
		})
		if err != nil {
			return a.failTurn(ctx, id, fmt.Errorf("LLM call: %w", err))
		}

		usage = usage.Add(resp.Usage)
		a.dispatch(ctx, id, command.RecordUsageUpdated{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.TotalTokens,
		})

		if len(resp.ToolCalls) > 0 {
			if resp.Content != "" {
				a.dispatch(ctx, id, command.RecordAgentThought{Text: resp.Content})
			}
			for _, tc := range resp.ToolCalls {
				turn = append(turn, a.runTool(ctx, id, tc)...)
			}
			if ctx.Err() != nil {
				return a.failTurn(ctx, id, ctx.Err())
			}
			continue
		}

		if resp.Content != "" {
			a.record(ctx, id, &types.TranscriptEntry{Role: types.RoleAssistant, Text: resp.Content})
			a.dispatch(ctx, id, command.RecordAgentText{Text: resp.Content})
			a.maybeSetTitle(ctx, info, resp.Content)
		}
		a.dispatch(ctx, id, command.CompleteTurn{StopReason: StopEndTurn})
		metrics.TurnsTotal.WithLabelValues("ok").Inc()
		a.RefreshFiles(ctx)
		logger.Info("turn complete", "rounds", round+1, "tokens", usage.TotalTokens)
		return nil
	}

	msg := fmt.Sprintf("max tool rounds (%d) exceeded", a.cfg.MaxRounds)
	a.record(ctx, id, &types.TranscriptEntry{Role: types.RoleError, Text: msg})
	a.dispatch(ctx, id, command.RecordError{Message: msg})
	a.dispatch(ctx, id, command.CompleteTurn{StopReason: StopMaxRounds})
	metrics.TurnsTotal.WithLabelValues("max_rounds").Inc()
	return errors.New(msg)
}

// runTool executes one tool call and returns the assistant call message and
// the tool result message for the ongoing turn.
func (a *Agent) runTool(ctx context.Context, id types.SessionID, tc llm.ToolCall) []llm.Message {
	args := tc.Function.ArgumentsJSON()
	tool, ok := a.cfg.Tools.Get(tc.Function.Name)
	kind := "other"
	if ok {
		kind = toolKind(tool)
	}

	a.record(ctx, id, &types.TranscriptEntry{
		Role:      types.RoleToolCall,
		Tool:      tc.Function.Name,
		CallID:    tc.ID,
		Arguments: string(tc.Function.Arguments),
	})
	a.dispatch(ctx, id, command.RecordToolCallStarted{ToolCallID: tc.ID, Title: tc.Function.Name, Kind: kind, Input: args})

	var result string
	switch {
	case !ok:
		result = fmt.Sprintf("error: unknown tool %q", tc.Function.Name)
	case ctx.Err() != nil:
		result = "error: cancelled"
	default:
		a.dispatch(ctx, id, command.RecordToolCallUpdated{ToolCallID: tc.ID, Status: "in_progress"})
		out, err := tool.Execute(ctx, args)
		if err != nil {
			result = fmt.Sprintf("error: %v", err)
		} else {
			result = truncate(out, maxToolOutput)
		}
	}

	a.record(ctx, id, &types.TranscriptEntry{Role: types.RoleToolResult, Tool: tc.Function.Name, CallID: tc.ID, Text: result})
	a.dispatch(ctx, id, command.RecordToolCallCompleted{ToolCallID: tc.ID, Status: toolStatus(result), Output: truncate(result, maxEventOutput)})

	return []llm.Message{
		{Role: "assistant", Tools: []llm.ToolCall{tc}},
		{Role: "tool", Content: result, Tools: []llm.ToolCall{{ID: tc.ID}}},
	}
}

// failTurn reports err on the session and ends the turn. Cancellation ends
// the turn quietly.
func (a *Agent) failTurn(ctx context.Context, id types.SessionID, err error) error {
	if ctx.Err() != nil {
		a.dispatch(ctx, id, command.CompleteTurn{StopReason: StopCancelled})
		metrics.TurnsTotal.WithLabelValues("cancelled").Inc()
		return ctx.Err()
	}
	a.record(ctx, id, &types.TranscriptEntry{Role: types.RoleError, Text: err.Error()})
	a.dispatch(ctx, id, command.RecordError{Message: err.Error()})
	a.dispatch(ctx, id, command.CompleteTurn{StopReason: StopError})
	metrics.TurnsTotal.WithLabelValues("error").Inc()
	return err
}

func (a *Agent) maybeSetTitle(ctx context.Context, info *types.TranscriptInfo, text string) {
	if info.Title != "" {
		return
	}
	title := titleFrom(text)
	if title == "" {
		return
	}
	info.Title = title
	if err := a.cfg.Index.Update(ctx, info); err != nil {
		a.logger.Warn("save session title failed", "session", info.SessionID, "error", err)
	}
	a.dispatch(ctx, info.SessionID, command.RecordSessionInfoUpdated{Title: title})
}

func toLLMImages(run *gateway.Run) []llm.Image {
	if len(run.Images) == 0 {
		return nil
	}
	out := make([]llm.Image, len(run.Images))
	for i, img := range run.Images {
		out[i] = llm.Image{MimeType: img.MimeType, Data: img.Data}
	}
	return out
}
