// Package node implements the Node Registry and Health Monitor (spec §4.2,
// §4.3): the in-memory record of every discovered Ollama backend, its
// health, and its observed resource state.
package node

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes the compute a node is known to run on, used by the
// Router's GPU/CPU scoring bonuses (spec §4.4).
type Kind string

const (
	KindGPU    Kind = "gpu"
	KindCPU    Kind = "cpu"
	KindHybrid Kind = "hybrid"
)

// SizeClass buckets a model's memory footprint (spec §3 Model Descriptor).
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

// ModelDescriptor describes a model's known or estimated footprint, used by
// the Pool Facade to decide proactive eviction (spec §4.5: large models set
// keep_alive=0; small models stay resident).
type ModelDescriptor struct {
	Name        string
	FootprintGB float64
	Class       SizeClass
}

// knownFootprints is a small static table of common local-inference model
// tags mapped to their approximate resident-memory footprint. Unknown names
// fall back to parsing a trailing parameter-count suffix.
var knownFootprints = map[string]float64{
	"llama3.2:3b":         2.2,
	"llama3.1:8b":         5.5,
	"llama3.1:70b":        40.0,
	"llama3:8b":           5.5,
	"llama3:70b":          40.0,
	"codellama:7b":        4.5,
	"codellama:13b":       8.0,
	"codellama:34b":       20.0,
	"mistral:7b":          4.5,
	"mixtral:8x7b":        26.0,
	"qwen2.5-coder:7b":    4.7,
	"qwen2.5-coder:32b":   20.0,
	"qwen2.5-math:7b":     4.7,
	"deepseek-r1:32b":     20.0,
	"deepseek-coder:6.7b": 4.0,
	"phi3:mini":           2.3,
	"nomic-embed-text":    0.3,
}

var paramSuffixRe = regexp.MustCompile(`(?i):(\d+(?:\.\d+)?)x?(\d+)?b\b`)

// DescribeModel classifies a model name into a ModelDescriptor. Names in
// knownFootprints resolve directly; otherwise the trailing ":<n>b" (or
// mixture-of-experts ":<n>x<n>b") parameter-count suffix common to
// local-inference tags is parsed and converted at ~0.6GB per billion
// parameters (a 4-bit-quantized rule of thumb), falling back to 4GB for
// tags that carry no parseable suffix at all.
func DescribeModel(name string) ModelDescriptor {
	if gb, ok := knownFootprints[name]; ok {
		return ModelDescriptor{Name: name, FootprintGB: gb, Class: classifySize(gb)}
	}

	gb := 4.0
	if m := paramSuffixRe.FindStringSubmatch(name); m != nil {
		base, _ := strconv.ParseFloat(m[1], 64)
		experts := 1.0
		if m[2] != "" {
			if n, err := strconv.ParseFloat(m[2], 64); err == nil {
				experts = n
			}
		}
		gb = base * experts * 0.6
	}
	return ModelDescriptor{Name: name, FootprintGB: gb, Class: classifySize(gb)}
}

func classifySize(gb float64) SizeClass {
	switch {
	case gb < 3:
		return SizeSmall
	case gb <= 8:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// latencyWindow is a fixed-capacity ring buffer of the last N latencies,
// matching spec §3's "rolling window of latency_ms (bounded to last N=100)".
type latencyWindow struct {
	samples [100]float64
	count   int
	next    int
}

func (w *latencyWindow) add(ms float64) {
	w.samples[w.next] = ms
	w.next = (w.next + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

func (w *latencyWindow) avg() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	return sum / float64(w.count)
}

// Node is a single discovered backend. All mutation happens under mu; the
// Health Monitor and Router's request counters are the only writers, per
// spec §3's lifecycle rule.
type Node struct {
	mu sync.RWMutex

	id   string
	host string
	port int
	kind Kind

	healthy       bool
	lastHeartbeat time.Time
	failureStreak int

	vramTotalMB     int64
	vramAvailableMB int64
	ramAvailableGB  float64
	cpuPercent      float64
	loadedModels    map[string]bool
	activeRequests  int
	maxConcurrent   int

	latencies    latencyWindow
	successCount int64
	failureCount int64
}

// Snapshot is a copy-on-read view of a Node's fields, safe to pass to the
// Router without holding any lock (spec §4.3).
type Snapshot struct {
	ID              string
	Host            string
	Port            int
	Kind            Kind
	Healthy         bool
	LastHeartbeat   time.Time
	FailureStreak   int
	VRAMTotalMB     int64
	VRAMAvailableMB int64
	RAMAvailableGB  float64
	CPUPercent      float64
	LoadedModels    map[string]bool
	ActiveRequests  int
	MaxConcurrent   int
	SuccessCount    int64
	FailureCount    int64
	SuccessRate     float64
	AvgLatencyMs    float64
}

// New creates a Node discovered at host:port. It starts unhealthy until the
// Health Monitor's first successful probe, except for the local node which
// the caller may mark healthy immediately (spec §4.2's "trust self-report").
func New(id, host string, port int, kind Kind) *Node {
	return &Node{
		id:            id,
		host:          host,
		port:          port,
		kind:          kind,
		maxConcurrent: 3,
		loadedModels:  make(map[string]bool),
	}
}

func (n *Node) ID() string   { return n.id }
func (n *Node) Host() string { return n.host }
func (n *Node) Port() int    { return n.port }

// URL returns the node's base HTTP URL.
func (n *Node) URL() string { return fmt.Sprintf("http://%s:%d", n.host, n.port) }

// RecordSuccess resets the failure streak, marks the node healthy, records
// latency, and increments the success counter (spec §3 invariant: failure
// streak is 0 or monotonic, reset on success).
func (n *Node) RecordSuccess(latencyMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failureStreak = 0
	n.healthy = true
	n.lastHeartbeat = time.Now()
	n.latencies.add(latencyMs)
	n.successCount++
}

// RecordFailure increments the failure streak and marks the node unhealthy
// once the streak reaches the threshold of 3 (spec §3 invariant).
func (n *Node) RecordFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failureStreak++
	n.failureCount++
	if n.failureStreak >= 3 {
		n.healthy = false
	}
}

// MarkHealthy force-sets health, resets the failure streak and refreshes
// the heartbeat, used by the Health Monitor's periodic probe success path.
func (n *Node) MarkHealthy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.healthy = true
	n.failureStreak = 0
	n.lastHeartbeat = time.Now()
}

// MarkUnhealthy forces the node unhealthy, used for staleness eviction
// (last_heartbeat exceeds T_stale) independent of the failure-streak path.
func (n *Node) MarkUnhealthy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.healthy = false
}

// IsStale reports whether the node's last heartbeat exceeds staleAfter.
func (n *Node) IsStale(staleAfter time.Duration) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.lastHeartbeat.IsZero() {
		return true
	}
	return time.Since(n.lastHeartbeat) > staleAfter
}

// SetResources updates the node's observed resource state, clamping
// vram_available_mb to vram_total_mb per the spec §3 invariant.
func (n *Node) SetResources(vramTotalMB, vramAvailableMB int64, ramAvailableGB, cpuPercent float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vramTotalMB = vramTotalMB
	if vramAvailableMB > vramTotalMB {
		vramAvailableMB = vramTotalMB
	}
	n.vramAvailableMB = vramAvailableMB
	n.ramAvailableGB = ramAvailableGB
	n.cpuPercent = cpuPercent
}

// SetLoadedModels replaces the node's set of currently loaded models.
func (n *Node) SetLoadedModels(models []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loadedModels = make(map[string]bool, len(models))
	for _, m := range models {
		n.loadedModels[m] = true
	}
}

// MarkModelUnloaded removes a single model from the loaded set, used when
// the Pool Facade observes an OOM error attributable to that model.
func (n *Node) MarkModelUnloaded(model string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.loadedModels, model)
}

// IncrActive/DecrActive track in-flight requests for the Pool's per-node
// concurrency cap (spec §4.5).
func (n *Node) IncrActive() {
	n.mu.Lock()
	n.activeRequests++
	n.mu.Unlock()
}

func (n *Node) DecrActive() {
	n.mu.Lock()
	if n.activeRequests > 0 {
		n.activeRequests--
	}
	n.mu.Unlock()
}

func (n *Node) MaxConcurrent() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxConcurrent
}

// Snapshot returns a consistent, lock-free copy of the node's state
// (spec §4.3: "Readers see a consistent snapshot of all fields relevant to
// selection").
func (n *Node) Snapshot() Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()

	models := make(map[string]bool, len(n.loadedModels))
	for k, v := range n.loadedModels {
		models[k] = v
	}

	return Snapshot{
		ID:              n.id,
		Host:            n.host,
		Port:            n.port,
		Kind:            n.kind,
		Healthy:         n.healthy,
		LastHeartbeat:   n.lastHeartbeat,
		FailureStreak:   n.failureStreak,
		VRAMTotalMB:     n.vramTotalMB,
		VRAMAvailableMB: n.vramAvailableMB,
		RAMAvailableGB:  n.ramAvailableGB,
		CPUPercent:      n.cpuPercent,
		LoadedModels:    models,
		ActiveRequests:  n.activeRequests,
		MaxConcurrent:   n.maxConcurrent,
		SuccessCount:    n.successCount,
		FailureCount:    n.failureCount,
		SuccessRate:     successRate(n.successCount, n.failureCount),
		AvgLatencyMs:    n.latencies.avg(),
	}
}

// successRate implements spec §3: "if window is empty, success_rate = 1.0
// (no evidence => optimistic)".
func successRate(success, failure int64) float64 {
	total := success + failure
	if total == 0 {
		return 1.0
	}
	return float64(success) / float64(total)
}

// IsLocalHost reports whether host names this process's own machine,
// used by the Health Monitor to decide whether to trust self-reports
// instead of probing (spec §4.2).
func IsLocalHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch h {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}
