// Package hydra is the composition root: it wires the Node Registry,
// Health Monitor, Backend Client, Router, Pool Facade, Code Task
// Dispatcher, Reasoning Engine, Orchestrator, Agent Loop, and Tool
// Registry together from a single core.Config, the way the teacher's
// framework.go wires BaseAgent's components from its own Config.
package hydra

import (
	"context"
	"fmt"
	"time"

	"github.com/hydra-run/hydra/agent"
	"github.com/hydra-run/hydra/backend"
	"github.com/hydra-run/hydra/core"
	"github.com/hydra-run/hydra/dispatcher"
	"github.com/hydra-run/hydra/node"
	"github.com/hydra-run/hydra/orchestrator"
	"github.com/hydra-run/hydra/pool"
	"github.com/hydra-run/hydra/reasoning"
	"github.com/hydra-run/hydra/resilience"
	"github.com/hydra-run/hydra/tools"
)

// Hydra composes every subsystem over a single Config (spec §1 System
// Overview).
type Hydra struct {
	Config       *core.Config
	Logger       core.Logger
	Registry     *node.Registry
	Monitor      *node.Monitor
	Pool         *pool.Facade
	Preferences  *dispatcher.Preferences
	UserPrefs    *core.PreferencesStore
	Tools        *tools.Registry
	Approvals    *tools.Tracker
	Reasoning    *reasoning.Engine
	Orchestrator *orchestrator.Orchestrator
}

// generatorAdapter lets pool.Facade stand in for reasoning/orchestrator/
// agent's narrower Generator interfaces without those packages importing
// pool or backend directly.
type generatorAdapter struct {
	p *pool.Facade
}

func (g generatorAdapter) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := g.p.Generate(ctx, pool.Request{Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// New builds a fully wired Hydra instance from cfg. It does not start
// the Health Monitor's probe loop or register any nodes; call Start for
// that.
func New(cfg *core.Config) (*Hydra, error) {
	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)

	registry := node.NewRegistry()

	backendLogger := logger
	clientFactory := func(baseURL string) *backend.Client {
		return backend.NewClient(baseURL, backendLogger)
	}
	prober := backend.NewClient("", backendLogger)

	monitor := node.NewMonitor(registry, prober, cfg.Discovery.ProbeInterval, 2*cfg.Discovery.ProbeInterval, logger)

	prefs := dispatcher.DefaultPreferences(cfg.Models.CodeModels, cfg.Models.GeneralModels, cfg.Models.MathModel, cfg.Models.ReasoningModel)
	userPrefs := core.NewPreferencesStore(cfg.PreferencesPath)

	cbConfig := resilience.DefaultConfig()
	cbConfig.FailureThreshold = cfg.Resilience.CircuitBreaker.Threshold
	cbConfig.SleepWindow = cfg.Resilience.CircuitBreaker.Timeout
	cbConfig.HalfOpenRequests = cfg.Resilience.CircuitBreaker.HalfOpenRequests

	poolFacade := pool.New(registry, clientFactory, logger,
		pool.WithFallbackChain(prefs),
		pool.WithMaxAttempts(cfg.Resilience.Retry.MaxAttempts),
		pool.WithCircuitBreakerConfig(cbConfig),
	)

	toolRegistry := tools.NewRegistry()
	tracker := tools.NewTracker()

	gen := generatorAdapter{p: poolFacade}
	reasoningEngine := reasoning.NewEngine(gen, reasoning.Config{
		MaxThinkingTokens:      cfg.Reasoning.MaxThinkingTokens,
		MaxCritiqueIterations:  cfg.Reasoning.MaxCritiqueIterations,
		DeepThinkingTokens:     cfg.Reasoning.DeepThinkingTokens,
		DeepThinkingIterations: cfg.Reasoning.DeepThinkingIterations,
		DeepThinkingThreshold:  cfg.Reasoning.DeepThinkingThreshold,
	})

	candidateModels := func(cat orchestrator.Category) []string {
		switch cat {
		case orchestrator.CategoryCode:
			return cfg.Models.CodeModels
		case orchestrator.CategoryMath:
			return []string{cfg.Models.MathModel}
		case orchestrator.CategoryReasoning:
			return []string{cfg.Models.ReasoningModel}
		default:
			return cfg.Models.GeneralModels
		}
	}
	orch := orchestrator.New(gen, cfg.Models.LightModel, cfg.Models.HeavyModel, candidateModels, nil, logger)

	return &Hydra{
		Config:       cfg,
		Logger:       logger,
		Registry:     registry,
		Monitor:      monitor,
		Pool:         poolFacade,
		Preferences:  prefs,
		UserPrefs:    userPrefs,
		Tools:        toolRegistry,
		Approvals:    tracker,
		Reasoning:    reasoningEngine,
		Orchestrator: orch,
	}, nil
}

// Start registers configured nodes and launches the Health Monitor's
// probe loop until ctx is canceled.
func (h *Hydra) Start(ctx context.Context) error {
	if h.Config.Discovery.Enabled {
		if err := node.DiscoverManual(h.Registry, h.Config.Discovery.ManualNodes); err != nil {
			return fmt.Errorf("discover manual nodes: %w", err)
		}
		if h.Config.Discovery.NetworkScan && h.Config.Discovery.ScanCIDR != "" {
			scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			prober := backend.NewClient("", h.Logger)
			if err := node.DiscoverCIDR(scanCtx, h.Registry, prober, h.Config.Discovery.ScanCIDR, 11434, 2*time.Second); err != nil {
				h.Logger.Warn("network discovery failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	ws := &tools.Workspace{Root: "."}
	tools.RegisterBuiltins(h.Tools, ws)

	go h.Monitor.Run(ctx)
	return nil
}

// NewAgentLoop builds an Autonomous Agent Loop over this Hydra instance's
// wired Reasoning Engine, Pool, and Tool Registry.
func (h *Hydra) NewAgentLoop(model string, events chan<- agent.Event) *agent.Loop {
	gen := generatorAdapter{p: h.Pool}
	return agent.New(h.Reasoning, gen, h.Tools, h.Approvals, model, events)
}
