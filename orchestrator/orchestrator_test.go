package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *capturingLogger) Info(string, map[string]interface{})  {}
func (l *capturingLogger) Error(string, map[string]interface{}) {}
func (l *capturingLogger) Warn(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *capturingLogger) Debug(string, map[string]interface{}) {}
func (l *capturingLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (l *capturingLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (l *capturingLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (l *capturingLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   func(model, prompt string) (string, error)
	calls   []string
}

func (f *fakeGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	f.mu.Unlock()
	return f.reply(model, prompt)
}

func constCandidates(models []string) CandidateModels {
	return func(Category) []string { return models }
}

func TestAnalyzeComplexity_SetsTaskComplexity(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) { return "COMPLEX", nil }}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{Prompt: "do something hard"}
	err := o.AnalyzeComplexity(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, ComplexityComplex, task.Complexity)
}

func TestAnalyzeComplexity_ErrorDefaultsModerate(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) { return "", errors.New("down") }}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{Prompt: "x"}
	err := o.AnalyzeComplexity(context.Background(), task)
	assert.Error(t, err)
	assert.Equal(t, ComplexityModerate, task.Complexity)
}

func TestDecompose_NonComplexProducesSingleSubtask(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) { return "", nil }}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{Prompt: "simple task", Complexity: ComplexitySimple}
	err := o.Decompose(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, task.SubTasks, 1)
	assert.Equal(t, "simple task", task.SubTasks[0].Prompt)
	assert.Equal(t, CategoryGeneral, task.SubTasks[0].Category)
}

func TestDecompose_ComplexParsesJSONArray(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) {
		return `prose before [{"subtask":"write the parser","model_type":"code","dependencies":[]},` +
			`{"subtask":"write docs","model_type":"general","dependencies":["0"]}] prose after`, nil
	}}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{Prompt: "build a thing", Complexity: ComplexityComplex}
	err := o.Decompose(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, task.SubTasks, 2)
	assert.Equal(t, CategoryCode, task.SubTasks[0].Category)
	assert.Equal(t, []string{"0"}, task.SubTasks[1].Dependencies)
}

func TestDecompose_MalformedJSONFallsBackToSingleSubtask(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) { return "not json at all", nil }}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{Prompt: "build a thing", Complexity: ComplexityComplex}
	err := o.Decompose(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, task.SubTasks, 1)
	assert.Equal(t, CategoryGeneral, task.SubTasks[0].Category)
}

func TestDecompose_UnknownModelTypeDefaultsGeneral(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) {
		return `[{"subtask":"x","model_type":"weird","dependencies":[]}]`, nil
	}}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{Prompt: "t", Complexity: ComplexityComplex}
	require.NoError(t, o.Decompose(context.Background(), task))
	assert.Equal(t, CategoryGeneral, task.SubTasks[0].Category)
}

func TestFanOut_RespectsDependencyOrder(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) { return "```\n" + prompt + "\n```", nil }}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{SubTasks: []SubTask{
		{ID: "0", Prompt: "first", Category: CategoryGeneral},
		{ID: "1", Prompt: "second", Category: CategoryGeneral, Dependencies: []string{"0"}},
	}}
	err := o.FanOut(context.Background(), task)
	require.NoError(t, err)
	assert.Contains(t, task.Results["0"], "first")
	assert.Contains(t, task.Results["1"], "second")
}

func TestFanOut_DropsUnsatisfiableSubtask(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) { return "```\nok\n```", nil }}
	o := New(gen, "analyst", "planner", constCandidates([]string{"m1"}), nil, nil)
	task := &Task{SubTasks: []SubTask{
		{ID: "0", Prompt: "needs missing dep", Dependencies: []string{"missing"}},
	}}
	err := o.FanOut(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, task.Results)
}

func TestDispatchSubtask_OmitsFailedModels(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) {
		if model == "bad" {
			return "", errors.New("boom")
		}
		return "ok from " + model, nil
	}}
	o := New(gen, "analyst", "planner", constCandidates([]string{"good", "bad"}), nil, nil)
	responses := o.dispatchSubtask(context.Background(), SubTask{Prompt: "x", Category: CategoryGeneral})
	assert.Len(t, responses, 1)
	assert.Equal(t, "ok from good", responses["good"])
}

func TestDispatchSubtask_LogsFailure(t *testing.T) {
	gen := &fakeGenerator{reply: func(model, prompt string) (string, error) {
		if model == "bad" {
			return "", errors.New("boom")
		}
		return "ok from " + model, nil
	}}
	logger := &capturingLogger{}
	o := New(gen, "analyst", "planner", constCandidates([]string{"good", "bad"}), nil, logger)
	o.dispatchSubtask(context.Background(), SubTask{ID: "0", Prompt: "x", Category: CategoryGeneral})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.warns, 1)
	assert.Equal(t, "subtask dispatch failed", logger.warns[0])
}
