package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// normalize produces a canonical form of a tool call's arguments so that
// equivalent calls hash identically (spec §3 Approval Record: "stable
// hash of (tool, normalized(args))"). Open Question decision: strings
// are trimmed, any argument keyed "path"/"file"/"dir" (or ending in
// those suffixes) is resolved to an absolute path via filepath.Abs, and
// the whole map is re-marshaled with sorted keys via encoding/json
// (which already sorts map keys) to get a stable byte sequence.
func normalize(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			trimmed := strings.TrimSpace(val)
			if isPathKey(k) {
				if abs, err := filepath.Abs(trimmed); err == nil {
					trimmed = abs
				}
			}
			out[k] = trimmed
		default:
			out[k] = v
		}
	}
	return out
}

func isPathKey(key string) bool {
	k := strings.ToLower(key)
	return k == "path" || k == "file" || k == "dir" ||
		strings.HasSuffix(k, "_path") || strings.HasSuffix(k, "_file") || strings.HasSuffix(k, "_dir")
}

// Hash returns the stable hex-encoded SHA-256 digest of (tool, normalized
// args), used as the Approval Record's identity (spec §3).
func Hash(tool string, args map[string]interface{}) string {
	normalized := normalize(args)
	payload, _ := json.Marshal(normalized)

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Pattern is an auto-approval rule keyed by tool name and conditions
// (spec §4.10).
type Pattern struct {
	Tool           string
	ArgRegex       *regexp.Regexp
	PathPrefixes   []string
	FileExtensions []string
	MaxFileSizeB   int64
	SessionLimit   int // 0 = unlimited
}

func (p Pattern) matches(tool string, args map[string]interface{}, usage int) bool {
	if p.Tool != "" && p.Tool != tool {
		return false
	}
	if p.SessionLimit > 0 && usage >= p.SessionLimit {
		return false
	}
	if p.ArgRegex != nil {
		payload, _ := json.Marshal(args)
		if !p.ArgRegex.Match(payload) {
			return false
		}
	}
	if len(p.PathPrefixes) > 0 {
		path, _ := args["path"].(string)
		ok := false
		for _, prefix := range p.PathPrefixes {
			if strings.HasPrefix(path, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(p.FileExtensions) > 0 {
		path, _ := args["path"].(string)
		ok := false
		for _, ext := range p.FileExtensions {
			if strings.HasSuffix(path, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if p.MaxFileSizeB > 0 {
		if size, ok := args["size_bytes"].(int64); ok && size > p.MaxFileSizeB {
			return false
		}
	}
	return true
}

// Record is a single approval event, kept in the ordered history
// (spec §3 Approval Record).
type Record struct {
	Hash         string
	Tool         string
	AutoApproved bool
	Timestamp    time.Time
}

// Tracker implements the Approval Tracker (spec §4.10).
type Tracker struct {
	mu sync.Mutex

	approvedHashes map[string]bool
	usage          map[string]int // tool name -> session use count
	history        []Record
	patterns       []Pattern
}

// NewTracker returns an empty Approval Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		approvedHashes: make(map[string]bool),
		usage:          make(map[string]int),
	}
}

// AddPattern registers an auto-approval pattern.
func (t *Tracker) AddPattern(p Pattern) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patterns = append(t.patterns, p)
}

// IsApproved implements the Approval Tracker contract (spec §4.10):
// safe is always approved, critical is never auto-approved, and
// requires_approval consults the session hash set and patterns.
func (t *Tracker) IsApproved(tool string, args map[string]interface{}, level Permission) bool {
	switch level {
	case PermissionSafe:
		return true
	case PermissionCritical:
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	hash := Hash(tool, args)
	if t.approvedHashes[hash] {
		return true
	}
	for _, p := range t.patterns {
		if p.matches(tool, args, t.usage[tool]) {
			return true
		}
	}
	return false
}

// RecordApproval appends an approval to the history and increments the
// tool's session usage counter (spec §4.10). autoApproved distinguishes
// a pattern-matched approval from one explicitly granted by the caller.
func (t *Tracker) RecordApproval(tool string, args map[string]interface{}, autoApproved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hash := Hash(tool, args)
	t.approvedHashes[hash] = true
	t.usage[tool]++
	t.history = append(t.history, Record{
		Hash:         hash,
		Tool:         tool,
		AutoApproved: autoApproved,
		Timestamp:    time.Now(),
	})
}

// Reset clears every approved hash (spec §3 invariant: "reset clears
// them"), leaving history and usage counters intact.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.approvedHashes = make(map[string]bool)
}

// Stats is the queryable approval-history summary (spec §4.10).
type Stats struct {
	Total        int
	UniqueOps    int
	Patterns     int
	SessionUsage map[string]int
	Recent       []Record
}

// Statistics returns the Approval Tracker's history statistics.
func (t *Tracker) Statistics() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	uniqueHashes := make(map[string]bool, len(t.history))
	for _, r := range t.history {
		uniqueHashes[r.Hash] = true
	}

	usage := make(map[string]int, len(t.usage))
	for k, v := range t.usage {
		usage[k] = v
	}

	recent := t.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := append([]Record(nil), recent...)
	sort.Slice(recentCopy, func(i, j int) bool { return recentCopy[i].Timestamp.After(recentCopy[j].Timestamp) })

	return Stats{
		Total:        len(t.history),
		UniqueOps:    len(uniqueHashes),
		Patterns:     len(t.patterns),
		SessionUsage: usage,
		Recent:       recentCopy,
	}
}
