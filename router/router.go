// Package router implements the Router (spec §4.4): selects a single
// node per request according to a routing Mode, applying filters then a
// mode-specific scoring function, grounded on the teacher's priority
// selection pattern in ai/registry.go but scoring Hydra's node resource
// state instead of a provider priority list.
package router

import (
	"sort"

	"github.com/hydra-run/hydra/node"
)

// Mode selects the scoring objective (spec §4.4).
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeReliable Mode = "reliable"
	ModeAsync    Mode = "async"
	ModeBalanced Mode = "balanced"
)

// Hints carries the routing-relevant fields of a Request (spec §3).
type Hints struct {
	Mode            Mode
	MinSuccessRate  float64
	PreferCPU       bool
	PreferLocal     bool
	MinVRAMGB       float64
	NodeID          string
	CodeTaskWantGPU bool
}

// Decision records the Router's chosen node, the reason, and which
// filters were applied, per spec §4.4 ("The Router returns a routing
// decision record").
type Decision struct {
	Node           node.Snapshot
	Reason         string
	FiltersApplied []string
	Override       bool
}

// scoring weight constants for the FAST mode (spec §4.4 table).
const (
	fastAlpha = 0.01 // latency penalty coefficient
	fastBeta  = 1.0  // success-rate reward coefficient
)

// Select applies filters then scores the remaining candidates, returning
// the chosen node's decision record. It returns ok=false when no node
// survives filtering (core.ErrNoHealthyNodes is the caller's concern).
func Select(nodes []node.Snapshot, hints Hints) (Decision, bool) {
	filtersApplied := []string{"healthy"}
	candidates := filterHealthy(nodes)

	if hints.NodeID != "" {
		filtersApplied = append(filtersApplied, "explicit_node_id")
		for _, n := range candidates {
			if n.ID == hints.NodeID {
				return Decision{Node: n, Reason: "explicit node_id override", FiltersApplied: filtersApplied, Override: true}, true
			}
		}
		// Falls through to scoring; the override could not be honored
		// because the node is unhealthy or unknown.
	}

	if hints.MinVRAMGB > 0 {
		filtersApplied = append(filtersApplied, "min_vram_gb")
		candidates = filterMinVRAM(candidates, hints.MinVRAMGB)
	}

	if len(candidates) == 0 {
		return Decision{}, false
	}

	if hints.PreferLocal {
		filtersApplied = append(filtersApplied, "prefer_local")
		if local, ok := pickLocal(candidates); ok {
			return Decision{Node: local, Reason: "prefer_local", FiltersApplied: filtersApplied}, true
		}
	}

	switch hints.Mode {
	case ModeFast:
		return scoreFast(candidates, filtersApplied), true
	case ModeReliable:
		reliable := filterMinSuccessRate(candidates, hints.MinSuccessRate)
		if len(reliable) == 0 {
			// No node clears the bar; relax to the full candidate set
			// rather than fail the request outright.
			reliable = candidates
		} else {
			filtersApplied = append(filtersApplied, "min_success_rate")
		}
		return scoreReliable(reliable, filtersApplied), true
	case ModeAsync:
		return scoreAsync(candidates, hints.PreferCPU, filtersApplied), true
	default:
		return scoreBalanced(candidates, hints.CodeTaskWantGPU, filtersApplied), true
	}
}

func filterHealthy(nodes []node.Snapshot) []node.Snapshot {
	out := make([]node.Snapshot, 0, len(nodes))
	for _, n := range nodes {
		if n.Healthy {
			out = append(out, n)
		}
	}
	return out
}

func filterMinVRAM(nodes []node.Snapshot, minGB float64) []node.Snapshot {
	minMB := int64(minGB * 1024)
	out := make([]node.Snapshot, 0, len(nodes))
	for _, n := range nodes {
		if n.VRAMAvailableMB >= minMB {
			out = append(out, n)
		}
	}
	return out
}

func filterMinSuccessRate(nodes []node.Snapshot, min float64) []node.Snapshot {
	if min <= 0 {
		return nodes
	}
	out := make([]node.Snapshot, 0, len(nodes))
	for _, n := range nodes {
		if n.SuccessRate >= min {
			out = append(out, n)
		}
	}
	return out
}

func pickLocal(nodes []node.Snapshot) (node.Snapshot, bool) {
	for _, n := range nodes {
		if node.IsLocalHost(n.Host) {
			return n, true
		}
	}
	return node.Snapshot{}, false
}

func loadRatio(n node.Snapshot) float64 {
	if n.MaxConcurrent <= 0 {
		return 0
	}
	return float64(n.ActiveRequests) / float64(n.MaxConcurrent)
}

func estimatedMemUse(n node.Snapshot) float64 {
	if n.VRAMTotalMB <= 0 {
		return 0
	}
	used := n.VRAMTotalMB - n.VRAMAvailableMB
	if used < 0 {
		used = 0
	}
	return float64(used) / float64(n.VRAMTotalMB)
}

// tieBreakLess applies spec §4.4's tie-break chain: lowest
// active_requests, then lowest avg_latency_ms, then alphabetical id.
func tieBreakLess(a, b node.Snapshot) bool {
	if a.ActiveRequests != b.ActiveRequests {
		return a.ActiveRequests < b.ActiveRequests
	}
	if a.AvgLatencyMs != b.AvgLatencyMs {
		return a.AvgLatencyMs < b.AvgLatencyMs
	}
	return a.ID < b.ID
}

func scoreFast(nodes []node.Snapshot, filters []string) Decision {
	type scored struct {
		n     node.Snapshot
		score float64
	}
	scoredNodes := make([]scored, len(nodes))
	for i, n := range nodes {
		s := -fastAlpha*n.AvgLatencyMs + fastBeta*n.SuccessRate - loadRatio(n)
		if n.Kind == node.KindGPU {
			s += 2
		}
		scoredNodes[i] = scored{n, s}
	}
	sort.SliceStable(scoredNodes, func(i, j int) bool {
		if scoredNodes[i].score != scoredNodes[j].score {
			return scoredNodes[i].score > scoredNodes[j].score
		}
		return tieBreakLess(scoredNodes[i].n, scoredNodes[j].n)
	})
	return Decision{Node: scoredNodes[0].n, Reason: "fast: lowest latency/load, highest success_rate", FiltersApplied: filters}
}

func scoreReliable(nodes []node.Snapshot, filters []string) Decision {
	sorted := append([]node.Snapshot(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FailureStreak != sorted[j].FailureStreak {
			return sorted[i].FailureStreak < sorted[j].FailureStreak
		}
		return tieBreakLess(sorted[i], sorted[j])
	})
	return Decision{Node: sorted[0], Reason: "reliable: lowest recent failures and load", FiltersApplied: filters}
}

func scoreAsync(nodes []node.Snapshot, preferCPU bool, filters []string) Decision {
	type scored struct {
		n     node.Snapshot
		score float64
	}
	scoredNodes := make([]scored, len(nodes))
	for i, n := range nodes {
		s := -loadRatio(n)
		if preferCPU && n.Kind == node.KindCPU {
			s += 2
		}
		scoredNodes[i] = scored{n, s}
	}
	sort.SliceStable(scoredNodes, func(i, j int) bool {
		if scoredNodes[i].score != scoredNodes[j].score {
			return scoredNodes[i].score > scoredNodes[j].score
		}
		return tieBreakLess(scoredNodes[i].n, scoredNodes[j].n)
	})
	return Decision{Node: scoredNodes[0].n, Reason: "async: prefer CPU, minimize GPU contention", FiltersApplied: filters}
}

func scoreBalanced(nodes []node.Snapshot, codeWantGPU bool, filters []string) Decision {
	type scored struct {
		n     node.Snapshot
		score float64
	}
	scoredNodes := make([]scored, len(nodes))
	for i, n := range nodes {
		s := 0.6*(1-loadRatio(n)) + 0.4*(1-estimatedMemUse(n))
		if codeWantGPU && n.Kind == node.KindGPU {
			s *= 1.5
		}
		scoredNodes[i] = scored{n, s}
	}
	sort.SliceStable(scoredNodes, func(i, j int) bool {
		if scoredNodes[i].score != scoredNodes[j].score {
			return scoredNodes[i].score > scoredNodes[j].score
		}
		return tieBreakLess(scoredNodes[i].n, scoredNodes[j].n)
	})
	return Decision{Node: scoredNodes[0].n, Reason: "balanced: weighted load/memory score", FiltersApplied: filters}
}
