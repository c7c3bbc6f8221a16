package node

import (
	"context"
	"time"

	"github.com/hydra-run/hydra/core"
)

// Prober performs a cheap health check against a node's base URL, without
// loading a model (spec §4.1 Backend Client's health() operation).
type Prober interface {
	Health(ctx context.Context, baseURL string) bool
}

// Monitor runs the cooperative probe loop described in spec §4.2.
type Monitor struct {
	registry      *Registry
	prober        Prober
	probeInterval time.Duration
	staleAfter    time.Duration
	logger        core.Logger
}

// NewMonitor builds a Health Monitor. probeInterval defaults to 120s and
// staleAfter to 120s when zero, matching spec §3/§4.2's T_probe/T_stale
// defaults.
func NewMonitor(registry *Registry, prober Prober, probeInterval, staleAfter time.Duration, logger core.Logger) *Monitor {
	if probeInterval <= 0 {
		probeInterval = 120 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 120 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("hydra/pool")
	}
	return &Monitor{registry: registry, prober: prober, probeInterval: probeInterval, staleAfter: staleAfter, logger: logger}
}

// Run blocks, probing every known node at probeInterval until ctx is done.
// It probes once immediately so freshly discovered nodes don't wait a full
// interval before their first health read.
func (m *Monitor) Run(ctx context.Context) {
	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every node once and, if every node ends up unhealthy,
// attempts a recovery probe against localhost to preserve the at-least-one
// availability guarantee of spec §4.2/§8.
func (m *Monitor) ProbeAll(ctx context.Context) {
	nodes := m.registry.All()
	anyHealthy := false

	for _, n := range nodes {
		m.probeOne(ctx, n)
		if n.Snapshot().Healthy {
			anyHealthy = true
		}
	}

	if !anyHealthy {
		for _, n := range nodes {
			if IsLocalHost(n.Host()) {
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				ok := m.prober.Health(probeCtx, n.URL())
				cancel()
				if ok {
					n.MarkHealthy()
				}
				break
			}
		}
	}
}

func (m *Monitor) probeOne(ctx context.Context, n *Node) {
	if IsLocalHost(n.Host()) {
		// Trust the local node's own self-report; don't probe over HTTP.
		if n.IsStale(m.staleAfter) {
			n.MarkUnhealthy()
		}
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if m.prober.Health(probeCtx, n.URL()) {
		n.MarkHealthy()
		return
	}

	n.RecordFailure()
	m.logger.Warn("node health probe failed", map[string]interface{}{
		"node_id": n.ID(),
		"url":     n.URL(),
	})

	if n.IsStale(m.staleAfter) {
		n.MarkUnhealthy()
	}
}
