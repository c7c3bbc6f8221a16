// Package orchestrator implements the Orchestrator (spec §4.7):
// complexity analysis, task decomposition, multi-model fan-out, and
// weighted-voting synthesis. This supersedes the teacher's
// orchestration/ package (agent-capability catalog orchestration) with
// Hydra's own complexity->decompose->fanout->synthesize pipeline, kept
// in the teacher's parallel-dispatch style (orchestration/executor.go's
// goroutine-per-unit-of-work fan-out, generalized from capability calls
// to per-subtask model candidates).
package orchestrator

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/hydra-run/hydra/core"
	"github.com/hydra-run/hydra/reasoning"
)

// Category buckets a subtask by which model family should handle it
// (spec §3 SubTask).
type Category string

const (
	CategoryCode      Category = "code"
	CategoryReasoning Category = "reasoning"
	CategoryMath      Category = "math"
	CategoryGeneral   Category = "general"
)

// Complexity is the Orchestrator's first-pass classification
// (spec §4.7 step 1).
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
)

// SubTask is one unit of decomposed work (spec §3).
type SubTask struct {
	ID           string
	Prompt       string
	Category     Category
	Dependencies []string
}

// Task is the top-level unit the Orchestrator receives (spec §3).
type Task struct {
	ID         string
	Prompt     string
	Complexity Complexity
	SubTasks   []SubTask
	Results    map[string]string
}

// Generator is the Pool capability the Orchestrator drives.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// CandidateModels resolves which models to fan a subtask's category out
// to, implemented by configuration (core.ModelsConfig.CodeModels etc.).
type CandidateModels func(category Category) []string

// Orchestrator runs the complexity -> decomposition -> fan-out ->
// synthesis pipeline.
type Orchestrator struct {
	gen          Generator
	analystModel string
	plannerModel string
	candidates   CandidateModels
	weights      map[string]float64 // per-model synthesis weight, default 1.0
	synth        *Synthesizer
	logger       core.Logger
}

// New builds an Orchestrator. A nil logger falls back to core.NoOpLogger.
func New(gen Generator, analystModel, plannerModel string, candidates CandidateModels, weights map[string]float64, logger core.Logger) *Orchestrator {
	if weights == nil {
		weights = map[string]float64{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Orchestrator{
		gen:          gen,
		analystModel: analystModel,
		plannerModel: plannerModel,
		candidates:   candidates,
		weights:      weights,
		synth:        NewSynthesizer(weights),
		logger:       logger,
	}
}

func (o *Orchestrator) modelWeight(model string) float64 {
	if w, ok := o.weights[model]; ok {
		return w
	}
	return 1.0
}

// AnalyzeComplexity implements spec §4.7 step 1.
func (o *Orchestrator) AnalyzeComplexity(ctx context.Context, task *Task) error {
	level, err := reasoning.AnalyzeComplexity(ctx, o.gen, o.analystModel, task.Prompt)
	if err != nil {
		task.Complexity = ComplexityModerate
		return err
	}
	task.Complexity = Complexity(level)
	return nil
}

type decompositionEntry struct {
	Subtask      string   `json:"subtask"`
	ModelType    string   `json:"model_type"`
	Dependencies []string `json:"dependencies"`
}

// Decompose implements spec §4.7 step 2: for COMPLEX tasks, prompt a
// larger model to emit a JSON subtask array. On parse failure, treat the
// whole prompt as a single general subtask.
func (o *Orchestrator) Decompose(ctx context.Context, task *Task) error {
	if task.Complexity != ComplexityComplex {
		task.SubTasks = []SubTask{{ID: "0", Prompt: task.Prompt, Category: CategoryGeneral}}
		return nil
	}

	prompt := "Break the following task into an ordered JSON array of objects " +
		`with fields "subtask", "model_type" (one of code, reasoning, math, general), ` +
		`and "dependencies" (array of prior subtask indices as strings). ` +
		"Respond with only the JSON array.\n\nTask: " + task.Prompt

	reply, err := o.gen.Generate(ctx, o.plannerModel, prompt)
	if err != nil {
		task.SubTasks = []SubTask{{ID: "0", Prompt: task.Prompt, Category: CategoryGeneral}}
		return err
	}

	var entries []decompositionEntry
	if jsonErr := json.Unmarshal([]byte(extractJSONArray(reply)), &entries); jsonErr != nil || len(entries) == 0 {
		task.SubTasks = []SubTask{{ID: "0", Prompt: task.Prompt, Category: CategoryGeneral}}
		return nil
	}

	subtasks := make([]SubTask, len(entries))
	for i, e := range entries {
		cat := Category(e.ModelType)
		switch cat {
		case CategoryCode, CategoryReasoning, CategoryMath, CategoryGeneral:
		default:
			cat = CategoryGeneral
		}
		subtasks[i] = SubTask{
			ID:           indexID(i),
			Prompt:       e.Subtask,
			Category:     cat,
			Dependencies: e.Dependencies,
		}
	}
	task.SubTasks = subtasks
	return nil
}

func indexID(i int) string {
	return strconv.Itoa(i)
}

// extractJSONArray trims any prose surrounding a JSON array in the
// model's reply, grounded on the same "find the first well-formed JSON"
// tolerance spec §4.9 demands of the Agent Loop's plan parser.
func extractJSONArray(text string) string {
	start := -1
	depth := 0
	for i, r := range text {
		if r == '[' {
			if start == -1 {
				start = i
			}
			depth++
		}
		if r == ']' {
			depth--
			if depth == 0 && start != -1 {
				return text[start : i+1]
			}
		}
	}
	return text
}

// subtaskResult pairs a completed subtask with every per-model response
// gathered for it (spec §4.7 step 3: "gather successes").
type subtaskResult struct {
	subtask   SubTask
	responses map[string]string // model -> response
}

// FanOut dispatches every dependency-satisfied subtask to its category's
// candidate models in parallel, respecting spec §3's invariant that a
// SubTask with unmet dependencies is never dispatched.
func (o *Orchestrator) FanOut(ctx context.Context, task *Task) error {
	completed := map[string]bool{}
	task.Results = map[string]string{}

	remaining := append([]SubTask(nil), task.SubTasks...)
	for len(remaining) > 0 {
		var ready []SubTask
		var stillWaiting []SubTask
		for _, st := range remaining {
			if dependenciesMet(st.Dependencies, completed) {
				ready = append(ready, st)
			} else {
				stillWaiting = append(stillWaiting, st)
			}
		}
		if len(ready) == 0 {
			// No progress possible; remaining subtasks have an
			// unsatisfiable dependency and are dropped.
			break
		}

		results := o.fanOutBatch(ctx, ready)
		for _, r := range results {
			merged := o.synth.Synthesize(r.responses)
			task.Results[r.subtask.ID] = merged.Text
			completed[r.subtask.ID] = true
		}
		remaining = stillWaiting
	}
	return nil
}

func dependenciesMet(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

func (o *Orchestrator) fanOutBatch(ctx context.Context, subtasks []SubTask) []subtaskResult {
	results := make([]subtaskResult, len(subtasks))
	var wg sync.WaitGroup

	for i, st := range subtasks {
		wg.Add(1)
		go func(i int, st SubTask) {
			defer wg.Done()
			results[i] = subtaskResult{subtask: st, responses: o.dispatchSubtask(ctx, st)}
		}(i, st)
	}
	wg.Wait()
	return results
}

// dispatchSubtask fans st.Prompt out to every candidate model for its
// category in parallel, gathering successes; a model failure is logged
// and omitted from the returned map (spec §4.7 step 3).
func (o *Orchestrator) dispatchSubtask(ctx context.Context, st SubTask) map[string]string {
	models := o.candidates(st.Category)
	responses := make(map[string]string, len(models))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, model := range models {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			reply, err := o.gen.Generate(ctx, model, st.Prompt)
			if err != nil {
				o.logger.Warn("subtask dispatch failed", map[string]interface{}{
					"model": model, "subtask": st.ID, "error": err.Error(),
				})
				return
			}
			mu.Lock()
			responses[model] = reply
			mu.Unlock()
		}(model)
	}
	wg.Wait()
	return responses
}
