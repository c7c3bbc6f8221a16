package orchestrator

import (
	"regexp"
	"strings"
)

// Synthesized is the weighted-voting synthesis output (spec §4.7.1).
type Synthesized struct {
	Text       string
	Confidence float64
}

// Synthesizer implements spec §4.7.1 Weighted Voting Synthesis.
type Synthesizer struct {
	weights map[string]float64
}

// NewSynthesizer builds a Synthesizer using per-model weights (default
// 1.0 for any unlisted model).
func NewSynthesizer(weights map[string]float64) *Synthesizer {
	return &Synthesizer{weights: weights}
}

func (s *Synthesizer) weightFor(model string) float64 {
	if w, ok := s.weights[model]; ok {
		return w
	}
	return 1.0
}

var fencedCodeRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\n(.*?)```")

// extractCandidateBlock pulls the first fenced code block out of a
// model's response; if none exists, falls back to every non-comment
// line as the heuristic candidate block (spec §4.7.1).
func extractCandidateBlock(text string) string {
	if m := fencedCodeRe.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], "\n")
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// lcsLength computes the longest-common-subsequence length between two
// line slices, the basis of the block-similarity metric (spec §4.7.1).
func lcsLength(a, b []string) int {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	return dp[len(a)][len(b)]
}

// similarityRatio is the LCS-based ratio spec §4.7.1 groups blocks by:
// 2*lcs / (len(a)+len(b)), matching difflib's SequenceMatcher ratio.
func similarityRatio(a, b string) float64 {
	linesA := strings.Split(a, "\n")
	linesB := strings.Split(b, "\n")
	if len(linesA) == 0 && len(linesB) == 0 {
		return 1.0
	}
	lcs := lcsLength(linesA, linesB)
	total := len(linesA) + len(linesB)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(lcs) / float64(total)
}

const similarityThreshold = 0.7

type candidate struct {
	model string
	block string
	lines []string
}

type group struct {
	members []candidate
}

// groupBlocks clusters candidates whose blocks are mutually similar
// (ratio >= 0.7) against the group's first (representative) member,
// matching spec §4.7.1's "group blocks by textual similarity".
func groupBlocks(candidates []candidate) []group {
	var groups []group
	for _, c := range candidates {
		placed := false
		for i := range groups {
			rep := groups[i].members[0]
			if similarityRatio(rep.block, c.block) >= similarityThreshold {
				groups[i].members = append(groups[i].members, c)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, group{members: []candidate{c}})
		}
	}
	return groups
}

// Synthesize implements spec §4.7.1 end to end: extract candidate code
// blocks from each model's response, group by similarity, choose the
// group maximizing Σ(model_weight × confidence), merge the winning
// group's aligned lines by per-line weighted plurality vote, then
// validate/repair syntax.
func (s *Synthesizer) Synthesize(responses map[string]string) Synthesized {
	if len(responses) == 0 {
		return Synthesized{}
	}

	candidates := make([]candidate, 0, len(responses))
	for model, text := range responses {
		block := extractCandidateBlock(text)
		candidates = append(candidates, candidate{
			model: model,
			block: block,
			lines: strings.Split(block, "\n"),
		})
	}

	groups := groupBlocks(candidates)

	bestScore := -1.0
	var best group
	for _, g := range groups {
		var score float64
		for _, c := range g.members {
			score += s.weightFor(c.model) * 1.0 // per-member confidence defaults to 1.0
		}
		if score > bestScore {
			bestScore = score
			best = g
		}
	}

	merged := mergeByWeightedVote(best.members, s)
	confidence := bestScore / float64(len(candidates))
	if confidence > 1.0 {
		confidence = 1.0
	}

	repaired, valid := validateAndRepair(merged)
	if !valid {
		confidence *= 0.7
	}

	return Synthesized{Text: repaired, Confidence: confidence}
}

// mergeByWeightedVote builds the merged code by per-line weighted
// plurality vote over the aligned lines of the winning group's members
// (spec §4.7.1). Alignment is by line index; members shorter than the
// longest contribute no vote for the missing trailing lines.
func mergeByWeightedVote(members []candidate, s *Synthesizer) string {
	if len(members) == 0 {
		return ""
	}
	maxLines := 0
	for _, m := range members {
		if len(m.lines) > maxLines {
			maxLines = len(m.lines)
		}
	}

	merged := make([]string, 0, maxLines)
	for i := 0; i < maxLines; i++ {
		votes := map[string]float64{}
		order := []string{}
		for _, m := range members {
			if i >= len(m.lines) {
				continue
			}
			line := m.lines[i]
			if _, seen := votes[line]; !seen {
				order = append(order, line)
			}
			votes[line] += s.weightFor(m.model)
		}
		if len(order) == 0 {
			continue
		}
		bestLine := order[0]
		bestWeight := votes[bestLine]
		for _, line := range order[1:] {
			if votes[line] > bestWeight {
				bestLine = line
				bestWeight = votes[line]
			}
		}
		merged = append(merged, bestLine)
	}
	return strings.Join(merged, "\n")
}

var pythonControlKeywordRe = regexp.MustCompile(`^\s*(if|elif|else|for|while|def|class|try|except|finally|with)\b.*[^:]\s*$`)

// validateAndRepair performs a lightweight syntax check (balanced
// brackets) and the two enumerated repairs spec §4.7.1 names: rounding
// indentation to the nearest 4 spaces, and appending a trailing colon to
// Python control-flow headers missing one. Returns the repaired text and
// whether it now validates.
func validateAndRepair(code string) (string, bool) {
	lines := strings.Split(code, "\n")
	repaired := make([]string, len(lines))
	for i, line := range lines {
		repaired[i] = repairIndentation(line)
		if pythonControlKeywordRe.MatchString(repaired[i]) {
			repaired[i] = repaired[i] + ":"
		}
	}
	result := strings.Join(repaired, "\n")
	return result, balancedBrackets(result)
}

func repairIndentation(line string) string {
	stripped := strings.TrimLeft(line, " ")
	leading := len(line) - len(stripped)
	if leading == 0 {
		return line
	}
	rounded := ((leading + 2) / 4) * 4
	return strings.Repeat(" ", rounded) + stripped
}

func balancedBrackets(code string) bool {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	for _, r := range code {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}
