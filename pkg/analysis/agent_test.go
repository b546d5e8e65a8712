package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/llm"
	"github.com/datalens-dev/datalens/pkg/tools"
)

func salesFrame() *dataset.Frame {
	return dataset.NewFrame(
		[]string{"region", "sales"},
		[][]any{
			{"east", 100.0},
			{"east", 2000000.0},
			{"west", 50.0},
			{"west", 3000000.0},
			{"north", 10.0},
		},
	)
}

func loadedWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws := NewWorkspace(dataset.Limits{})
	require.NoError(t, ws.Load(salesFrame()))
	return ws
}

func newTestAgent(provider llm.Provider, cfg AgentConfig) *Agent {
	return NewAgent(provider, tools.NewRegistry(), cfg, zerolog.Nop())
}

func toolCallResponse(id, name, args string) *llm.Response {
	return &llm.Response{
		ToolCalls:    []llm.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}},
		FinishReason: "tool_calls",
	}
}

func finalResponse(text string) *llm.Response {
	return &llm.Response{Content: text, FinishReason: "stop"}
}

func TestRunTurnFinalAnswer(t *testing.T) {
	mock := llm.NewMockProvider().Script(finalResponse("The dataset has 5 rows."))
	agent := newTestAgent(mock, AgentConfig{})
	ws := loadedWorkspace(t)

	result, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "How big is the dataset?")
	require.NoError(t, err)
	assert.Equal(t, "The dataset has 5 rows.", result.Message)
	assert.Empty(t, result.Steps)
	assert.False(t, result.StoppedEarly)

	// The model was offered the full tool set and the dataset context.
	require.Equal(t, 1, mock.CallCount())
	req := mock.Calls[0]
	assert.Len(t, req.Tools, 9)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "sales")
	assert.Equal(t, "How big is the dataset?", req.Messages[len(req.Messages)-1].Content)
}

func TestRunTurnToolThenAnswer(t *testing.T) {
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", `{"column":"sales","operator":"gte","value":1000000}`)).
		Script(finalResponse("Two rows exceed one million."))
	agent := newTestAgent(mock, AgentConfig{})
	ws := loadedWorkspace(t)

	result, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "Keep only big sales.")
	require.NoError(t, err)
	assert.Equal(t, "Two rows exceed one million.", result.Message)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "filter", result.Steps[0].Type)
	assert.Equal(t, 1, result.Steps[0].Ordinal)
	assert.Len(t, ws.Steps(), 1)

	cur, err := ws.Current()
	require.NoError(t, err)
	assert.Equal(t, 2, cur.NumRows())

	// Second request carries the assistant tool call and its result.
	require.Equal(t, 2, mock.CallCount())
	msgs := mock.Calls[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, last.Content, "affected_rows")
}

func TestRunTurnIterationBound(t *testing.T) {
	filterArgs := `{"column":"sales","operator":"gt","value":0}`
	mock := llm.NewMockProvider()
	for i := 0; i < 5; i++ {
		mock.Script(toolCallResponse("c", "filter", filterArgs))
	}
	agent := newTestAgent(mock, AgentConfig{MaxToolIterations: 3})
	ws := loadedWorkspace(t)

	result, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "loop forever")
	require.NoError(t, err)
	assert.True(t, result.StoppedEarly)
	assert.Len(t, result.Steps, 3)
	assert.Len(t, ws.Steps(), 3)
	assert.Equal(t, 3, mock.CallCount())
	assert.Contains(t, result.Message, "Stopped early")

	// The session stays usable for the next turn.
	next := llm.NewMockProvider().Script(finalResponse("ok"))
	agent2 := newTestAgent(next, AgentConfig{})
	result2, err := agent2.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "still there?")
	require.NoError(t, err)
	assert.Equal(t, "ok", result2.Message)
}

func TestRunTurnUserErrorFedBack(t *testing.T) {
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", `{"column":"missing","operator":"eq","value":1}`)).
		Script(finalResponse("That column does not exist."))
	agent := newTestAgent(mock, AgentConfig{})
	ws := loadedWorkspace(t)

	result, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "filter by missing")
	require.NoError(t, err)
	assert.Empty(t, result.Steps)
	assert.Empty(t, ws.Steps())
	assert.Equal(t, "That column does not exist.", result.Message)

	// The error reached the model as a tool result.
	msgs := mock.Calls[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "error")
}

func TestRunTurnProviderFailureRollsBack(t *testing.T) {
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", `{"column":"sales","operator":"gte","value":1000000}`)).
		ScriptError(errors.New("upstream exploded"))
	agent := newTestAgent(mock, AgentConfig{})
	ws := loadedWorkspace(t)

	_, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "big sales")
	require.ErrorIs(t, err, ErrProviderUnavailable)

	// The step applied before the failure is rolled back with the frame.
	assert.Empty(t, ws.Steps())
	cur, err := ws.Current()
	require.NoError(t, err)
	assert.Equal(t, 5, cur.NumRows())
}

func TestRunTurnWithoutDataset(t *testing.T) {
	agent := newTestAgent(llm.NewMockProvider(), AgentConfig{})
	ws := NewWorkspace(dataset.Limits{})

	_, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "hello")
	require.ErrorIs(t, err, dataset.ErrNotLoaded)
}

func TestRunTurnMalformedArguments(t *testing.T) {
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", `{not json`)).
		Script(finalResponse("Sorry, let me retry."))
	agent := newTestAgent(mock, AgentConfig{})
	ws := loadedWorkspace(t)

	result, err := agent.RunTurn(context.Background(), ws, Metadata{ID: "s1"}, nil, "go")
	require.NoError(t, err)
	assert.Empty(t, result.Steps)
	assert.Equal(t, "Sorry, let me retry.", result.Message)
}
