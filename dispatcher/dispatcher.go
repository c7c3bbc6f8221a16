// Package dispatcher implements the Code Task Dispatcher (spec §4.6):
// classifies an incoming request into a task type via weighted keyword
// matching with context bonuses, and resolves per-type model preference
// and fallback chains. Grounded on the weighted-signal classification
// style of the teacher's orchestration/error_analyzer.go, applied to
// task-type detection instead of HTTP-status retry analysis.
package dispatcher

import (
	"strings"
)

// TaskType is one of the task categories spec §4.6 defines.
type TaskType string

const (
	TaskGenerate     TaskType = "generate"
	TaskDebug        TaskType = "debug"
	TaskExplain      TaskType = "explain"
	TaskTroubleshoot TaskType = "troubleshoot"
	TaskRefactor     TaskType = "refactor"
	TaskReview       TaskType = "review"
	TaskOptimize     TaskType = "optimize"
	TaskTest         TaskType = "test"
	TaskDocument     TaskType = "document"
)

// keywordWeights maps a task type to its keyword -> weight table. Scores
// accumulate additively for every keyword match found in the prompt.
var keywordWeights = map[TaskType]map[string]float64{
	TaskDebug: {
		"debug": 2, "bug": 2, "fix": 1.5, "broken": 1.5, "crash": 2,
		"fails": 1, "failing": 1, "wrong": 0.5,
	},
	TaskTroubleshoot: {
		"troubleshoot": 2.5, "error": 1.5, "exception": 1.5, "traceback": 2,
		"stack trace": 2, "not working": 1,
	},
	TaskExplain: {
		"explain": 2.5, "what does": 1.5, "how does": 1.5, "understand": 1,
		"walk me through": 1.5, "meaning": 0.5,
	},
	TaskRefactor: {
		"refactor": 2.5, "clean up": 1.5, "reorganize": 1.5, "simplify": 1,
		"improve": 1, "restructure": 1.5,
	},
	TaskReview: {
		"review": 2.5, "code review": 2.5, "feedback": 1, "critique": 1.5,
		"look over": 1,
	},
	TaskOptimize: {
		"optimize": 2.5, "performance": 1.5, "faster": 1, "speed up": 1.5,
		"efficient": 1, "bottleneck": 1.5,
	},
	TaskTest: {
		"test": 2, "unit test": 2.5, "test case": 2, "coverage": 1.5,
		"assert": 1,
	},
	TaskDocument: {
		"document": 2.5, "documentation": 2.5, "docstring": 2, "comment this": 1.5,
		"readme": 1.5,
	},
	TaskGenerate: {
		"generate": 1.5, "create": 1, "write": 1, "implement": 1.5, "build": 1,
	},
}

// hasExistingCode is a cheap heuristic for "the prompt includes a code
// block", used as a context bonus signal (spec §4.6: "presence of
// existing code plus 'improve' biases refactor").
func hasExistingCode(prompt string) bool {
	return strings.Contains(prompt, "```") || strings.Contains(prompt, "def ") || strings.Contains(prompt, "func ")
}

// Classify scores prompt against every task type's keyword table, applies
// the documented context bonuses, and returns the highest-scoring type.
// Ties default to TaskGenerate (spec §4.6).
func Classify(prompt string) TaskType {
	lower := strings.ToLower(prompt)

	scores := make(map[TaskType]float64, len(keywordWeights))
	for taskType, keywords := range keywordWeights {
		var score float64
		for kw, weight := range keywords {
			if strings.Contains(lower, kw) {
				score += weight
			}
		}
		scores[taskType] = score
	}

	// Context bonuses (spec §4.6).
	if strings.Contains(lower, "error") || strings.Contains(lower, "traceback") {
		scores[TaskDebug] += 1.5
		scores[TaskTroubleshoot] += 1.5
	}
	if hasExistingCode(prompt) && strings.Contains(lower, "improve") {
		scores[TaskRefactor] += 2
	}

	best := TaskGenerate
	bestScore := scores[TaskGenerate]
	for _, t := range orderedTaskTypes {
		if scores[t] > bestScore {
			best = t
			bestScore = scores[t]
		}
	}
	if bestScore <= 0 {
		return TaskGenerate
	}
	for _, t := range orderedTaskTypes {
		if t != best && scores[t] == bestScore {
			return TaskGenerate
		}
	}
	return best
}

// orderedTaskTypes gives Classify and Fallback a deterministic scan order.
// In Classify any tie for the top score resolves to TaskGenerate.
var orderedTaskTypes = []TaskType{
	TaskGenerate, TaskDebug, TaskExplain, TaskTroubleshoot, TaskRefactor,
	TaskReview, TaskOptimize, TaskTest, TaskDocument,
}

// Preferences is the ordered, small→large model list for one task type,
// overridable from configuration (spec §4.6).
type Preferences struct {
	chains map[TaskType][]string
}

// DefaultPreferences returns the built-in small→large fallback chains,
// using the model-family names Hydra's configuration documents
// (ModelsConfig.CodeModels/GeneralModels/MathModel/ReasoningModel).
func DefaultPreferences(codeModels, generalModels []string, mathModel, reasoningModel string) *Preferences {
	code := append([]string(nil), codeModels...)
	general := append([]string(nil), generalModels...)

	return &Preferences{chains: map[TaskType][]string{
		TaskGenerate:     code,
		TaskDebug:        code,
		TaskTroubleshoot: code,
		TaskRefactor:     code,
		TaskReview:       append(append([]string(nil), code...), general...),
		TaskOptimize:     append([]string{reasoningModel}, code...),
		TaskTest:         code,
		TaskDocument:     general,
		TaskExplain:      append([]string{reasoningModel}, general...),
	}}
}

// ModelsFor returns the configured preference chain for a task type,
// falling back to the generate chain when the type is unconfigured.
func (p *Preferences) ModelsFor(t TaskType) []string {
	if chain, ok := p.chains[t]; ok && len(chain) > 0 {
		return chain
	}
	return p.chains[TaskGenerate]
}

// Override replaces a task type's preference chain (spec §4.6:
// "overridable from configuration").
func (p *Preferences) Override(t TaskType, models []string) {
	p.chains[t] = models
}

// Fallback implements pool.FallbackChain. Chains are ordered small→large
// (spec §4.6); on a resource-exhaustion failure the Pool needs a
// *smaller* model (spec §4.5: "switch to a smaller model from the
// dispatcher's fallback chain"), so Fallback walks one step back toward
// the head of the first chain, in orderedTaskTypes order, that contains
// the failing model.
func (p *Preferences) Fallback(model string) (string, bool) {
	for _, t := range orderedTaskTypes {
		chain := p.chains[t]
		for i, m := range chain {
			if m == model {
				if i > 0 {
					return chain[i-1], true
				}
				return "", false
			}
		}
	}
	return "", false
}
