// Package reasoning implements the Reasoning Engine (spec §4.8): staged
// thinking modes and styles layered over the Pool, thinking-marker
// extraction, self-critique iteration, and streaming chunk
// classification. Grounded on the teacher's prompt_builder.go template
// dispatch pattern, generalized from capability-prompt assembly to
// mode/style reasoning-template assembly.
package reasoning

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Mode selects how much of a thinking budget a request gets (spec §3/§4.8).
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeStandard Mode = "standard"
	ModeExtended Mode = "extended"
	ModeDeep     Mode = "deep"
	ModeAuto     Mode = "auto"
)

// Style selects the reasoning template family (spec §3/§4.8).
type Style string

const (
	StyleChainOfThought  Style = "chain_of_thought"
	StyleTreeOfThought   Style = "tree_of_thought"
	StyleSelfCritique    Style = "self_critique"
	StyleIterativeRefine Style = "iterative_refine"
)

// Generator is the Pool capability the Reasoning Engine drives; it is
// satisfied by pool.Facade.Generate without importing the pool package
// directly (keeps reasoning a leaf the Pool does not depend back on).
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Record is the Reasoning Record (spec §3): the full trace of one
// reasoning pass.
type Record struct {
	Mode               Mode
	Style              Style
	ThinkingBudget      int
	CritiqueIterations int
	ThinkingText       string
	ResponseText       string
	ModelUsed          string
}

// Config bounds per spec §3's ReasoningConfig fields.
type Config struct {
	MaxThinkingTokens       int
	MaxCritiqueIterations   int
	DeepThinkingTokens      int
	DeepThinkingIterations  int
	DeepThinkingThreshold   float64
}

// DefaultConfig mirrors core.ReasoningConfig's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxThinkingTokens:      8000,
		MaxCritiqueIterations:  2,
		DeepThinkingTokens:     32000,
		DeepThinkingIterations: 3,
		DeepThinkingThreshold:  8.0,
	}
}

// thinkingMarkers recognizes every marker family spec §4.8 documents.
var thinkingMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`),
	regexp.MustCompile(`(?s)\[Thinking\](.*?)\[/Thinking\]`),
	regexp.MustCompile(`(?s)<\|thinking\|>(.*?)<\|/thinking\|>`),
}

// ExtractThinking separates the delimited thinking block from the final
// response text (spec §4.8). If no marker is found, thinking is empty
// and the whole text is treated as the response.
func ExtractThinking(text string) (thinking string, response string) {
	for _, re := range thinkingMarkers {
		if m := re.FindStringSubmatchIndex(text); m != nil {
			thinking = text[m[2]:m[3]]
			response = text[:m[0]] + text[m[1]:]
			return strings.TrimSpace(thinking), strings.TrimSpace(response)
		}
	}
	return "", strings.TrimSpace(text)
}

// templates holds the six canonical prompt templates (spec §4.8).
var templates = map[string]string{
	"chain_of_thought": "Think step by step inside <thinking></thinking> tags, then answer.\n\nTask: %s",
	"extended":         "Think carefully and thoroughly inside <thinking></thinking> tags, considering edge cases, then answer.\n\nTask: %s",
	"critique":         "Here is a prior answer:\n%s\n\nCritique it inside <thinking></thinking> tags for correctness and completeness, then provide an improved answer.\n\nOriginal task: %s",
	"tree_of_thought":  "Explore at least three distinct solution paths inside <thinking></thinking> tags, compare them, then answer with the best one.\n\nTask: %s",
	"deep":             "Take as long as you need inside <thinking></thinking> tags to reason exhaustively about this task from multiple angles, then answer.\n\nTask: %s",
	"complexity":       "Classify the complexity of the following task as exactly one word: SIMPLE, MODERATE, or COMPLEX.\n\nTask: %s",
}

func buildPrompt(style Style, mode Mode, task string, priorAnswer string) string {
	switch {
	case mode == ModeDeep:
		return fmt.Sprintf(templates["deep"], task)
	case style == StyleSelfCritique && priorAnswer != "":
		return fmt.Sprintf(templates["critique"], priorAnswer, task)
	case style == StyleTreeOfThought:
		return fmt.Sprintf(templates["tree_of_thought"], task)
	case mode == ModeExtended:
		return fmt.Sprintf(templates["extended"], task)
	default:
		return fmt.Sprintf(templates["chain_of_thought"], task)
	}
}

// AxisScores is the analyst model's four-axis rating used by auto mode
// selection (spec §4.8).
type AxisScores struct {
	Complexity float64
	Ambiguity  float64
	Novelty    float64
	Risk       float64
}

func (a AxisScores) average() float64 {
	return (a.Complexity + a.Ambiguity + a.Novelty + a.Risk) / 4
}

var axisLineRe = regexp.MustCompile(`(?i)(complexity|ambiguity|novelty|risk)\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)`)

// ParseAxisScores extracts the four named scores from the analyst
// model's free-form reply. Missing axes default to 0.
func ParseAxisScores(text string) AxisScores {
	var a AxisScores
	for _, m := range axisLineRe.FindAllStringSubmatch(text, -1) {
		v, _ := strconv.ParseFloat(m[2], 64)
		switch strings.ToLower(m[1]) {
		case "complexity":
			a.Complexity = v
		case "ambiguity":
			a.Ambiguity = v
		case "novelty":
			a.Novelty = v
		case "risk":
			a.Risk = v
		}
	}
	return a
}

// SelectMode implements spec §4.8's auto mode-selection thresholds.
// Parse failure (all-zero scores) defaults to standard.
func SelectMode(a AxisScores, cfg Config) Mode {
	avg := a.average()
	if avg == 0 {
		return ModeStandard
	}
	threshold := cfg.DeepThinkingThreshold
	if threshold <= 0 {
		threshold = 8.0
	}
	switch {
	case avg >= threshold:
		return ModeDeep
	case avg < 4:
		return ModeFast
	case avg < 7:
		return ModeStandard
	default:
		return ModeExtended
	}
}

// AnalyzeComplexity implements spec §4.7 step 1 against the analyst
// model: prompt it with the fixed template and parse exactly one of
// SIMPLE|MODERATE|COMPLEX, defaulting to MODERATE on a malformed reply.
func AnalyzeComplexity(ctx context.Context, gen Generator, analystModel, task string) (string, error) {
	prompt := fmt.Sprintf(templates["complexity"], task)
	reply, err := gen.Generate(ctx, analystModel, prompt)
	if err != nil {
		return "", err
	}
	upper := strings.ToUpper(strings.TrimSpace(reply))
	for _, level := range []string{"SIMPLE", "MODERATE", "COMPLEX"} {
		if strings.Contains(upper, level) {
			return level, nil
		}
	}
	return "MODERATE", nil
}

// Engine drives one reasoning pass, including self-critique iteration
// (spec §4.8).
type Engine struct {
	gen Generator
	cfg Config
}

// NewEngine builds a Reasoning Engine over gen.
func NewEngine(gen Generator, cfg Config) *Engine {
	return &Engine{gen: gen, cfg: cfg}
}

// Run executes mode/style against model, iterating self-critique for
// StyleSelfCritique, StyleIterativeRefine and ModeDeep (spec §4.8).
func (e *Engine) Run(ctx context.Context, model, task string, mode Mode, style Style) (*Record, error) {
	budget := e.cfg.MaxThinkingTokens
	iterations := e.cfg.MaxCritiqueIterations
	if mode == ModeDeep {
		budget = e.cfg.DeepThinkingTokens
		iterations = e.cfg.DeepThinkingIterations
	}

	prompt := buildPrompt(style, mode, task, "")
	reply, err := e.gen.Generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	thinking, response := ExtractThinking(reply)

	critiquesRun := 0
	if style == StyleSelfCritique || style == StyleIterativeRefine || mode == ModeDeep {
		for i := 0; i < iterations; i++ {
			critiquePrompt := buildPrompt(StyleSelfCritique, mode, task, response)
			critiqueReply, err := e.gen.Generate(ctx, model, critiquePrompt)
			if err != nil {
				break
			}
			critiqueThinking, critiqueResponse := ExtractThinking(critiqueReply)
			thinking = thinking + "\n---\n" + critiqueThinking
			response = critiqueResponse
			critiquesRun++
		}
	}

	return &Record{
		Mode:               mode,
		Style:              style,
		ThinkingBudget:     budget,
		CritiqueIterations: critiquesRun,
		ThinkingText:       thinking,
		ResponseText:       response,
		ModelUsed:          model,
	}, nil
}

// ChunkKind classifies a streamed chunk for the UI (spec §4.8).
type ChunkKind string

const (
	ChunkThinking ChunkKind = "thinking"
	ChunkResponse ChunkKind = "response"
)

// StreamClassifier tracks whether the running buffer is currently inside
// a thinking marker, classifying each incoming text chunk as it arrives.
type StreamClassifier struct {
	buffer    strings.Builder
	inside    bool
	openTags  []string
	closeTags []string
}

// NewStreamClassifier builds a classifier recognizing every marker
// family spec §4.8 documents.
func NewStreamClassifier() *StreamClassifier {
	return &StreamClassifier{
		openTags:  []string{"<thinking>", "[Thinking]", "<|thinking|>"},
		closeTags: []string{"</thinking>", "[/Thinking]", "<|/thinking|>"},
	}
}

// Classify appends chunk to the running buffer and returns its kind.
// A chunk that contains an opening marker, or a closing marker while
// inside a thinking block, is classified as thinking.
func (s *StreamClassifier) Classify(chunk string) ChunkKind {
	s.buffer.WriteString(chunk)
	text := chunk

	for _, tag := range s.openTags {
		if strings.Contains(text, tag) {
			s.inside = true
		}
	}
	kind := ChunkResponse
	if s.inside {
		kind = ChunkThinking
	}
	for _, tag := range s.closeTags {
		if strings.Contains(text, tag) {
			s.inside = false
		}
	}
	return kind
}

// MetadataEvent announces the mode/model before streaming begins
// (spec §4.8: "a metadata event precedes the stream").
type MetadataEvent struct {
	Mode  Mode
	Style Style
	Model string
}

