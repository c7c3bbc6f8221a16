package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCandidateBlock_FencedCode(t *testing.T) {
	text := "Here's the code:\n```go\nfunc foo() {}\n```\nDone."
	assert.Equal(t, "func foo() {}", extractCandidateBlock(text))
}

func TestExtractCandidateBlock_FallsBackToNonCommentLines(t *testing.T) {
	text := "# a comment\nfunc foo() {}\n\n// another comment\nreturn nil"
	assert.Equal(t, "func foo() {}\nreturn nil", extractCandidateBlock(text))
}

func TestSimilarityRatio_IdenticalBlocksIsOne(t *testing.T) {
	assert.Equal(t, 1.0, similarityRatio("a\nb\nc", "a\nb\nc"))
}

func TestSimilarityRatio_CompletelyDifferentIsLow(t *testing.T) {
	ratio := similarityRatio("a\nb\nc", "x\ny\nz")
	assert.Less(t, ratio, 0.3)
}

func TestGroupBlocks_ClustersSimilarBlocks(t *testing.T) {
	candidates := []candidate{
		{model: "m1", block: "a\nb\nc", lines: []string{"a", "b", "c"}},
		{model: "m2", block: "a\nb\nc", lines: []string{"a", "b", "c"}},
		{model: "m3", block: "x\ny\nz", lines: []string{"x", "y", "z"}},
	}
	groups := groupBlocks(candidates)
	assert.Len(t, groups, 2)
}

func TestSynthesize_PicksLargerGroupWhenWeightsEqual(t *testing.T) {
	s := NewSynthesizer(nil)
	responses := map[string]string{
		"m1": "```\nreturn 1\n```",
		"m2": "```\nreturn 1\n```",
		"m3": "```\nreturn 2\n```",
	}
	result := s.Synthesize(responses)
	assert.Equal(t, "return 1", result.Text)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestSynthesize_WeightsFavorHeavierModel(t *testing.T) {
	s := NewSynthesizer(map[string]float64{"heavy": 10.0, "light": 1.0})
	responses := map[string]string{
		"heavy": "```\nreturn 1\n```",
		"light": "```\nreturn 2\n```",
	}
	result := s.Synthesize(responses)
	assert.Equal(t, "return 1", result.Text)
}

func TestSynthesize_EmptyResponses(t *testing.T) {
	s := NewSynthesizer(nil)
	result := s.Synthesize(map[string]string{})
	assert.Equal(t, Synthesized{}, result)
}

func TestValidateAndRepair_AddsMissingColon(t *testing.T) {
	repaired, valid := validateAndRepair("if x > 0\n    return x")
	assert.Contains(t, repaired, "if x > 0:")
	assert.True(t, valid)
}

func TestValidateAndRepair_RoundsIndentation(t *testing.T) {
	repaired, _ := validateAndRepair("def f():\n   return 1")
	lines := splitLines(repaired)
	assert.Equal(t, "    return 1", lines[1])
}

func TestValidateAndRepair_DetectsUnbalancedBrackets(t *testing.T) {
	_, valid := validateAndRepair("func f() {")
	assert.False(t, valid)
}

func TestBalancedBrackets(t *testing.T) {
	assert.True(t, balancedBrackets("f(a, [b, {c: 1}])"))
	assert.False(t, balancedBrackets("f(a, [b)"))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
