// Package agent implements the Autonomous Agent Loop (spec §4.9):
// plan -> execute -> analyze iterations bounded by N_max, gated tool use
// via the Tool Registry and Approval Tracker, and progress events for
// streaming UIs. Grounded on the teacher's workflow_engine.go step-state
// machine, generalized from a fixed DAG of workflow steps to a
// dynamically re-planned loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hydra-run/hydra/core"
	"github.com/hydra-run/hydra/reasoning"
	"github.com/hydra-run/hydra/tools"
)

// State is an Agent Step's lifecycle stage (spec §3 Agent Step).
type State string

const (
	StateInitializing State = "initializing"
	StatePlanning      State = "planning"
	StateExecuting     State = "executing"
	StateAnalyzing     State = "analyzing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Action is the planner's chosen next move (spec §4.9 step 1).
type Action string

const (
	ActionUseTool         Action = "use_tool"
	ActionGenerateCode    Action = "generate_code"
	ActionGenerateResponse Action = "generate_response"
	ActionAnalyzeResults  Action = "analyze_results"
	ActionComplete        Action = "complete"
)

// Decision is the parsed planning output (spec §4.9 step 1).
type Decision struct {
	Reasoning  string                 `json:"reasoning"`
	Action     Action                 `json:"action"`
	Details    map[string]interface{} `json:"details"`
	Confidence float64                `json:"confidence"`
}

// Step is one completed iteration of the loop (spec §3 Agent Step).
type Step struct {
	StepNumber  int
	State       State
	Action      Action
	Reasoning   string
	ToolCalls   []string
	ToolResults []interface{}
	Response    string
	Error       string
	Complete    bool
}

// EventKind tags a progress event for the streaming UI (spec §4.9 step 4).
type EventKind string

const (
	EventStateTransition EventKind = "state_transition"
	EventToolBegin       EventKind = "tool_begin"
	EventToolEnd         EventKind = "tool_end"
	EventResponseChunk   EventKind = "response_chunk"
)

// Event is emitted at every state transition and tool/response boundary.
type Event struct {
	Kind  EventKind
	Step  int
	State State
	Tool  string
	Text  string
}

// Generator is the Pool capability used for generate_code/generate_response.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

const maxIterations = 10

// Loop drives the Autonomous Agent Loop.
type Loop struct {
	engine   *reasoning.Engine
	gen      Generator
	registry *tools.Registry
	tracker  *tools.Tracker
	model    string
	events   chan<- Event
}

// New builds an Agent Loop. events may be nil if the caller doesn't need
// progress events.
func New(engine *reasoning.Engine, gen Generator, registry *tools.Registry, tracker *tools.Tracker, model string, events chan<- Event) *Loop {
	return &Loop{engine: engine, gen: gen, registry: registry, tracker: tracker, model: model, events: events}
}

func (l *Loop) emit(e Event) {
	if l.events != nil {
		l.events <- e
	}
}

// Run executes the loop against task until completion, failure, or
// N_max iterations (spec §4.9).
func (l *Loop) Run(ctx context.Context, task string) ([]Step, error) {
	var steps []Step
	var lastError string
	var lastResponse string

	l.emit(Event{Kind: EventStateTransition, State: StateInitializing})

	for i := 1; i <= maxIterations; i++ {
		l.emit(Event{Kind: EventStateTransition, Step: i, State: StatePlanning})
		decision := l.plan(ctx, task, steps, lastError)

		l.emit(Event{Kind: EventStateTransition, Step: i, State: StateExecuting})
		step := l.execute(ctx, i, decision)

		l.emit(Event{Kind: EventStateTransition, Step: i, State: StateAnalyzing})
		l.analyze(&step, &lastError, &lastResponse)

		steps = append(steps, step)

		if step.Complete {
			l.emit(Event{Kind: EventStateTransition, Step: i, State: StateCompleted})
			return steps, nil
		}
	}

	l.emit(Event{Kind: EventStateTransition, State: StateFailed})
	return steps, fmt.Errorf("%w: after %d iterations", core.ErrMaxIterations, maxIterations)
}

// plan builds the planning prompt (task, last three step summaries,
// available tools) and parses the first well-formed JSON object from the
// reply (spec §4.9 step 1).
func (l *Loop) plan(ctx context.Context, task string, steps []Step, lastError string) Decision {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	if lastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n\n", lastError)
	}

	recent := steps
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent steps:\n")
		for _, s := range recent {
			fmt.Fprintf(&b, "- step %d: action=%s response=%s error=%s\n", s.StepNumber, s.Action, truncate(s.Response, 200), s.Error)
		}
		b.WriteString("\n")
	}

	b.WriteString("Available tools:\n")
	for _, t := range l.registry.List() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", t.Name, t.Permission, t.Description)
	}

	b.WriteString("\nRespond with a single JSON object: " +
		`{"reasoning": "...", "action": "use_tool|generate_code|analyze_results|complete", "details": {...}, "confidence": 0.0}`)

	reply, err := l.gen.Generate(ctx, l.model, b.String())
	if err != nil {
		return Decision{Action: ActionGenerateResponse}
	}

	obj := extractJSONObject(reply)
	var decision Decision
	if obj == "" || json.Unmarshal([]byte(obj), &decision) != nil || decision.Action == "" {
		return Decision{Action: ActionGenerateResponse}
	}
	return decision
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func extractJSONObject(text string) string {
	start := -1
	depth := 0
	for i, r := range text {
		if r == '{' {
			if start == -1 {
				start = i
			}
			depth++
		}
		if r == '}' {
			depth--
			if depth == 0 && start != -1 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// execute carries out the planner's chosen action (spec §4.9 step 2).
func (l *Loop) execute(ctx context.Context, stepNumber int, decision Decision) Step {
	step := Step{StepNumber: stepNumber, State: StateExecuting, Action: decision.Action, Reasoning: decision.Reasoning}

	switch decision.Action {
	case ActionComplete:
		step.Complete = true
		return step

	case ActionUseTool:
		name, _ := decision.Details["tool"].(string)
		args, _ := decision.Details["args"].(map[string]interface{})
		t, ok := l.registry.Get(name)
		if !ok {
			step.Error = fmt.Sprintf("unknown tool %q", name)
			return step
		}

		if !l.tracker.IsApproved(name, args, t.Permission) {
			step.Error = fmt.Sprintf("tool %q requires approval", name)
			return step
		}
		l.tracker.RecordApproval(name, args, true)

		l.emit(Event{Kind: EventToolBegin, Step: stepNumber, Tool: name})
		result, err := l.registry.Invoke(ctx, name, args)
		l.emit(Event{Kind: EventToolEnd, Step: stepNumber, Tool: name})

		step.ToolCalls = append(step.ToolCalls, name)
		step.ToolResults = append(step.ToolResults, result)
		if err != nil {
			step.Error = err.Error()
		}
		return step

	case ActionGenerateCode, ActionGenerateResponse:
		prompt, _ := decision.Details["prompt"].(string)
		if prompt == "" {
			prompt = decision.Reasoning
		}
		record, err := l.engine.Run(ctx, l.model, prompt, reasoning.ModeStandard, reasoning.StyleChainOfThought)
		if err != nil {
			step.Error = err.Error()
			return step
		}
		step.Response = record.ResponseText
		l.emit(Event{Kind: EventResponseChunk, Step: stepNumber, Text: record.ResponseText})
		return step

	case ActionAnalyzeResults:
		return step

	default:
		step.Error = fmt.Sprintf("unrecognized action %q", decision.Action)
		return step
	}
}

// analyze determines completion (spec §4.9 step 3): an explicit complete
// terminates successfully; success without error continues; an error
// feeds last_error back into the next planning pass.
func (l *Loop) analyze(step *Step, lastError, lastResponse *string) {
	if step.Action == ActionComplete {
		step.Complete = true
		*lastError = ""
		return
	}
	if step.Error != "" {
		*lastError = step.Error
		return
	}
	*lastError = ""
	if step.Response != "" {
		*lastResponse = step.Response
	}
}
