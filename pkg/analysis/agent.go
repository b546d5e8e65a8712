package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/internal/observability"
	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
	"github.com/datalens-dev/datalens/pkg/llm"
	"github.com/datalens-dev/datalens/pkg/tools"
)

const basePrompt = `You are a data analysis assistant. You answer questions about a
tabular dataset by calling the provided tools. Mutating tools replace
the working dataset; read-only tools report on it without changing it.
Call tools one at a time, inspect the result, and finish with a concise
natural-language answer grounded in the tool outputs. Never invent
values that a tool did not return.`

// AgentConfig bounds the turn loop.
type AgentConfig struct {
	// Model is passed through to the provider.
	Model string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxToolIterations caps tool calls per turn (default 10).
	MaxToolIterations int
	// TurnTimeout is the wall-clock limit per turn (default 2m).
	TurnTimeout time.Duration
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 10
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 2 * time.Minute
	}
	return c
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	// Message is the assistant's final text.
	Message string `json:"message"`
	// Steps are the ledger entries appended during the turn.
	Steps []ledger.Step `json:"steps,omitempty"`
	// StoppedEarly is set when the iteration bound terminated the loop.
	StoppedEarly bool `json:"stoppedEarly,omitempty"`
	// Usage accumulates token counts across the turn's completions.
	Usage llm.Usage `json:"usage"`
}

// Agent drives the bounded tool-calling loop for one turn at a time.
// An Agent holds no session state and may be shared across sessions.
type Agent struct {
	provider llm.Provider
	registry *tools.Registry
	config   AgentConfig
	logger   zerolog.Logger
}

// NewAgent creates an agent on the given provider and tool registry.
func NewAgent(provider llm.Provider, registry *tools.Registry, config AgentConfig, logger zerolog.Logger) *Agent {
	return &Agent{
		provider: provider,
		registry: registry,
		config:   config.withDefaults(),
		logger:   logger.With().Str("component", "agent").Logger(),
	}
}

// RunTurn executes one conversation turn: it sends the dataset context,
// history and user message to the model, applies requested tools
// against the workspace, and loops until the model answers in text or
// the iteration bound is hit.
//
// Provider failures (after the provider's own retries) roll the dataset
// and ledger back to their turn-start view, so a failed turn leaves no
// partial steps behind.
func (a *Agent) RunTurn(ctx context.Context, ws *Workspace, meta Metadata, history []ChatTurn, userMessage string) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.TurnTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "analysis.turn", map[string]any{
		"session.id": meta.ID,
	})
	defer span.End()

	desc, err := ws.Describe()
	if err != nil {
		return nil, err
	}
	startFrame, startSteps, err := ws.Capture()
	if err != nil {
		return nil, err
	}

	messages := a.buildContext(meta, desc, history, userMessage)
	defs := a.toolDefinitions()

	start := time.Now()
	result := &TurnResult{}
	for iteration := 0; ; iteration++ {
		if iteration >= a.config.MaxToolIterations {
			result.StoppedEarly = true
			result.Message = fmt.Sprintf(
				"Stopped early after %d tool steps without reaching a final answer. The steps applied so far are recorded; ask a follow-up question to continue.",
				len(result.Steps))
			a.logger.Warn().Str("session", meta.ID).Int("steps", len(result.Steps)).
				Msg("turn hit tool iteration bound")
			observability.RecordTurn("stopped_early", time.Since(start))
			return result, nil
		}

		resp, err := a.provider.Complete(ctx, llm.Request{
			Messages:    messages,
			Model:       a.config.Model,
			Temperature: a.config.Temperature,
			Tools:       defs,
		})
		if err != nil {
			a.rollback(ws, startFrame, startSteps)
			observability.RecordLLMCompletion(a.provider.Name(), "error")
			observability.RecordTurn("provider_error", time.Since(start))
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		observability.RecordLLMCompletion(a.provider.Name(), "ok")
		observability.RecordLLMTokens(a.provider.Name(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens

		if !resp.WantsTools() {
			result.Message = resp.Content
			observability.RecordTurn("completed", time.Since(start))
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			outcome, step, applied := a.applyCall(ws, call)
			if applied {
				result.Steps = append(result.Steps, step)
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    outcome,
			})
		}
	}
}

// applyCall dispatches one tool call. Successful mutating calls commit
// the new frame and the ledger step through the workspace as one unit;
// handler errors become the textual tool result and leave state
// untouched.
func (a *Agent) applyCall(ws *Workspace, call llm.ToolCall) (outcome string, step ledger.Step, applied bool) {
	callStart := time.Now()

	var params map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &params); err != nil {
			observability.RecordToolCall(call.Name, "error", time.Since(callStart))
			return fmt.Sprintf("error: malformed tool arguments: %v", err), ledger.Step{}, false
		}
	}

	current, err := ws.Current()
	if err != nil {
		observability.RecordToolCall(call.Name, "error", time.Since(callStart))
		return fmt.Sprintf("error: %v", err), ledger.Step{}, false
	}

	res, err := a.registry.Dispatch(current, call.Name, params)
	if err != nil {
		status := "error"
		if tools.UserError(err) {
			status = "rejected"
		} else {
			a.logger.Error().Err(err).Str("tool", call.Name).Msg("tool handler failed")
		}
		observability.RecordToolCall(call.Name, status, time.Since(callStart))
		return fmt.Sprintf("error: %v", err), ledger.Step{}, false
	}

	if res.Mutating() {
		step, err = ws.Commit(res.Frame, call.Name, params, res.Summary)
		if err != nil {
			a.logger.Error().Err(err).Str("tool", call.Name).Msg("step not recordable")
			observability.RecordToolCall(call.Name, "error", time.Since(callStart))
			return fmt.Sprintf("error: %v", err), ledger.Step{}, false
		}
		applied = true
	}

	observability.RecordToolCall(call.Name, "ok", time.Since(callStart))

	payload, err := json.Marshal(res.Summary)
	if err != nil {
		payload = []byte(`{"ok":true}`)
	}
	return string(payload), step, applied
}

func (a *Agent) rollback(ws *Workspace, frame *dataset.Frame, steps []ledger.Step) {
	if err := ws.Rollback(frame, steps); err != nil {
		a.logger.Error().Err(err).Msg("turn rollback failed")
	}
}

// buildContext assembles the provider message list: base prompt plus
// session prompt plus the dataset description, then the conversation.
func (a *Agent) buildContext(meta Metadata, desc *dataset.Description, history []ChatTurn, userMessage string) []llm.Message {
	system := basePrompt
	if meta.SystemPrompt != "" {
		system += "\n\n" + meta.SystemPrompt
	}
	system += "\n\nCurrent dataset:\n" + desc.String()

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})
}

func (a *Agent) toolDefinitions() []llm.Tool {
	defs := a.registry.Definitions()
	out := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		schema, err := json.Marshal(def.Schema)
		if err != nil {
			continue
		}
		out = append(out, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	return out
}
