// Package pool implements the Pool Facade (spec §4.5): the single public
// entry point for generate/generate_stream/embed, adding failover,
// per-node concurrency limits, and large-model memory management on top
// of the Backend Client, Node Registry, and Router. Grounded on the
// teacher's resilience.Retry/CircuitBreaker pattern, generalized to
// retry across a changing set of candidate nodes rather than a single
// fixed operation.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/hydra-run/hydra/backend"
	"github.com/hydra-run/hydra/core"
	"github.com/hydra-run/hydra/node"
	"github.com/hydra-run/hydra/resilience"
	"github.com/hydra-run/hydra/router"
)

// FallbackChain resolves a model's progressively smaller fallbacks,
// implemented by the Code Task Dispatcher (spec §4.6). The Pool consults
// it only on a resource-exhaustion failure.
type FallbackChain interface {
	Fallback(model string) (next string, ok bool)
}

// Request is the caller-facing unit of work (spec §3 Request).
type Request struct {
	Model       string
	Prompt      string
	Options     backend.Options
	Hints       router.Hints
	MaxAttempts int
}

// Response is the result of a non-streaming Generate call.
type Response struct {
	Text       string
	NodeID     string
	Model      string
	DurationMs int64
	Attempts   int
}

// ClientFactory builds (or returns a cached) Backend Client for a node's
// base URL; Pool holds one Client per node rather than per request.
type ClientFactory func(baseURL string) *backend.Client

// Facade is the Pool (spec §4.5).
type Facade struct {
	registry  *node.Registry
	clientFor ClientFactory
	fallback  FallbackChain
	logger    core.Logger

	clients    map[string]*backend.Client
	semaphores map[string]chan struct{}
	breakers   map[string]core.CircuitBreaker

	defaultMaxAttempts int
	queueWait          time.Duration
	cbConfig           *resilience.CircuitBreakerConfig
}

// Option configures a Facade at construction time.
type Option func(*Facade)

// WithFallbackChain wires in the Code Task Dispatcher's model fallback
// list, consulted on resource-exhaustion errors.
func WithFallbackChain(fc FallbackChain) Option {
	return func(f *Facade) { f.fallback = fc }
}

// WithMaxAttempts overrides the default failover attempt budget (3).
func WithMaxAttempts(n int) Option {
	return func(f *Facade) { f.defaultMaxAttempts = n }
}

// WithQueueWait overrides the default FIFO queue wait ceiling (30s).
func WithQueueWait(d time.Duration) Option {
	return func(f *Facade) { f.queueWait = d }
}

// WithCircuitBreakerConfig overrides the per-node circuit breaker
// template (spec §4.5 failure semantics: repeated transport failures
// against one node should stop being retried against it within a
// request's failover loop as well as across requests).
func WithCircuitBreakerConfig(cfg *resilience.CircuitBreakerConfig) Option {
	return func(f *Facade) { f.cbConfig = cfg }
}

// New builds a Pool Facade over registry, using clientFor to obtain a
// Backend Client per node base URL.
func New(registry *node.Registry, clientFor ClientFactory, logger core.Logger, opts ...Option) *Facade {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("hydra/pool")
	}
	f := &Facade{
		registry:           registry,
		clientFor:          clientFor,
		logger:             logger,
		clients:            make(map[string]*backend.Client),
		semaphores:         make(map[string]chan struct{}),
		breakers:           make(map[string]core.CircuitBreaker),
		defaultMaxAttempts: 3,
		queueWait:          30 * time.Second,
		cbConfig:           resilience.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) clientForNode(n node.Snapshot) *backend.Client {
	if c, ok := f.clients[n.ID]; ok {
		return c
	}
	c := f.clientFor(fmt.Sprintf("http://%s:%d", n.Host, n.Port))
	f.clients[n.ID] = c
	return c
}

// breakerForNode returns (creating if needed) the per-node circuit
// breaker that gates dispatch independent of the per-request failover
// loop, so a node that keeps failing across many requests stops being
// selected even after its excluded-set resets on the next call. It is
// held as the core.CircuitBreaker interface so the Pool depends only on
// the contract, not resilience's concrete implementation.
func (f *Facade) breakerForNode(nodeID string) core.CircuitBreaker {
	if cb, ok := f.breakers[nodeID]; ok {
		return cb
	}
	cfg := *f.cbConfig
	cfg.Name = "pool." + nodeID
	cb, err := resilience.NewCircuitBreaker(&cfg)
	if err != nil {
		cb = resilience.NewCircuitBreakerWithConfig(&cfg)
	}
	f.breakers[nodeID] = cb
	return cb
}

func (f *Facade) semaphoreForNode(n node.Snapshot) chan struct{} {
	sem, ok := f.semaphores[n.ID]
	if !ok {
		cap := n.MaxConcurrent
		if cap <= 0 {
			cap = 3
		}
		sem = make(chan struct{}, cap)
		f.semaphores[n.ID] = sem
	}
	return sem
}

// acquire reserves a concurrency slot on n, waiting up to queueWait
// (spec §4.5 "excess callers wait in a FIFO queue with a configurable
// maximum wait").
func (f *Facade) acquire(ctx context.Context, n *node.Node, snap node.Snapshot) (release func(), err error) {
	sem := f.semaphoreForNode(snap)

	waitCtx, cancel := context.WithTimeout(ctx, f.queueWait)
	defer cancel()

	select {
	case sem <- struct{}{}:
		n.IncrActive()
		return func() {
			n.DecrActive()
			<-sem
		}, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: node %s queue wait exceeded", core.ErrQueueTimeout, snap.ID)
	}
}

// maybeUnloadForLargeModel broadcasts a non-blocking keep_alive=0 hint to
// every candidate before dispatching a large-class model (spec §4.5).
func (f *Facade) maybeUnloadForLargeModel(ctx context.Context, model string, candidates []node.Snapshot) {
	desc := node.DescribeModel(model)
	if desc.Class != node.SizeLarge {
		return
	}
	for _, snap := range candidates {
		c := f.clientForNode(snap)
		go func(c *backend.Client, snap node.Snapshot) {
			unloadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for loaded := range snap.LoadedModels {
				if loaded == model {
					continue
				}
				_, _ = c.Generate(unloadCtx, loaded, "", backend.Options{KeepAlive: "0"})
			}
		}(c, snap)
	}
}

// Generate selects a node, invokes it, and fails over up to max_attempts
// on retryable errors (spec §4.5).
func (f *Facade) Generate(ctx context.Context, req Request) (*Response, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = f.defaultMaxAttempts
	}

	model := req.Model
	excluded := map[string]bool{}
	var lastErr error

	snapshot := f.registry.Snapshot()
	f.maybeUnloadForLargeModel(ctx, model, snapshot)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		candidates := excludeIDs(f.registry.Snapshot(), excluded)
		decision, ok := router.Select(candidates, req.Hints)
		if !ok {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, core.ErrNoHealthyNodes
		}

		n, ok := f.registry.Get(decision.Node.ID)
		if !ok {
			excluded[decision.Node.ID] = true
			continue
		}

		breaker := f.breakerForNode(decision.Node.ID)
		if !breaker.CanExecute() {
			excluded[decision.Node.ID] = true
			lastErr = core.ErrCircuitBreakerOpen
			continue
		}

		release, err := f.acquire(ctx, n, decision.Node)
		if err != nil {
			return nil, err
		}

		client := f.clientForNode(decision.Node)
		start := time.Now()
		result, genErr := client.Generate(ctx, model, req.Prompt, req.Options)
		release()

		if genErr == nil {
			breaker.RecordSuccess()
			n.RecordSuccess(float64(time.Since(start).Milliseconds()))
			return &Response{
				Text:       result.Text,
				NodeID:     decision.Node.ID,
				Model:      model,
				DurationMs: result.DurationMs,
				Attempts:   attempt,
			}, nil
		}

		breaker.RecordFailure()
		lastErr = genErr
		n.RecordFailure()
		f.logger.Warn("generate attempt failed", map[string]interface{}{
			"node_id": decision.Node.ID,
			"model":   model,
			"attempt": attempt,
			"error":   genErr.Error(),
		})

		if core.IsResourceExhausted(genErr) {
			n.MarkModelUnloaded(model)
			if f.fallback != nil {
				if next, ok := f.fallback.Fallback(model); ok {
					model = next
				}
			}
			continue
		}

		if !core.IsRetryable(genErr) {
			return nil, genErr
		}
		excluded[decision.Node.ID] = true
	}

	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", core.ErrMaxRetriesExceeded, maxAttempts, lastErr)
}

// GenerateStream selects a node and streams chunks. Once the first chunk
// is yielded, further failures are terminal; if zero chunks were yielded
// before a failure, it re-routes to the next candidate (spec §4.5).
func (f *Facade) GenerateStream(ctx context.Context, req Request) (<-chan backend.Chunk, <-chan error) {
	out := make(chan backend.Chunk)
	errs := make(chan error, 1)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = f.defaultMaxAttempts
	}

	go func() {
		defer close(out)
		defer close(errs)

		model := req.Model
		excluded := map[string]bool{}
		var lastErr error

		snapshot := f.registry.Snapshot()
		f.maybeUnloadForLargeModel(ctx, model, snapshot)

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			candidates := excludeIDs(f.registry.Snapshot(), excluded)
			decision, ok := router.Select(candidates, req.Hints)
			if !ok {
				if lastErr == nil {
					lastErr = core.ErrNoHealthyNodes
				}
				errs <- lastErr
				return
			}

			n, ok := f.registry.Get(decision.Node.ID)
			if !ok {
				excluded[decision.Node.ID] = true
				continue
			}

			breaker := f.breakerForNode(decision.Node.ID)
			if !breaker.CanExecute() {
				excluded[decision.Node.ID] = true
				lastErr = core.ErrCircuitBreakerOpen
				continue
			}

			release, err := f.acquire(ctx, n, decision.Node)
			if err != nil {
				errs <- err
				return
			}

			client := f.clientForNode(decision.Node)
			start := time.Now()
			chunks, chunkErrs := client.GenerateStream(ctx, model, req.Prompt, req.Options)

			yielded := false
			streamErr := error(nil)
		drain:
			for {
				select {
				case chunk, ok := <-chunks:
					if !ok {
						break drain
					}
					yielded = true
					select {
					case out <- chunk:
					case <-ctx.Done():
						release()
						errs <- ctx.Err()
						return
					}
				case err, ok := <-chunkErrs:
					if ok {
						streamErr = err
					}
				}
			}
			release()

			if streamErr == nil {
				breaker.RecordSuccess()
				n.RecordSuccess(float64(time.Since(start).Milliseconds()))
				return
			}

			breaker.RecordFailure()
			n.RecordFailure()
			lastErr = streamErr

			if yielded {
				// Terminal: no mid-stream re-routing once output began.
				errs <- streamErr
				return
			}

			if core.IsResourceExhausted(streamErr) {
				n.MarkModelUnloaded(model)
				if f.fallback != nil {
					if next, ok := f.fallback.Fallback(model); ok {
						model = next
					}
				}
				continue
			}
			if !core.IsRetryable(streamErr) {
				errs <- streamErr
				return
			}
			excluded[decision.Node.ID] = true
		}

		errs <- fmt.Errorf("%w: exhausted %d attempts: %v", core.ErrMaxRetriesExceeded, maxAttempts, lastErr)
	}()

	return out, errs
}

// Embed selects a node and returns an embedding vector, with the same
// failover policy as Generate.
func (f *Facade) Embed(ctx context.Context, model, input string, hints router.Hints) ([]float64, error) {
	excluded := map[string]bool{}
	var lastErr error

	for attempt := 1; attempt <= f.defaultMaxAttempts; attempt++ {
		candidates := excludeIDs(f.registry.Snapshot(), excluded)
		decision, ok := router.Select(candidates, hints)
		if !ok {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, core.ErrNoHealthyNodes
		}

		n, ok := f.registry.Get(decision.Node.ID)
		if !ok {
			excluded[decision.Node.ID] = true
			continue
		}

		breaker := f.breakerForNode(decision.Node.ID)
		if !breaker.CanExecute() {
			excluded[decision.Node.ID] = true
			lastErr = core.ErrCircuitBreakerOpen
			continue
		}

		release, err := f.acquire(ctx, n, decision.Node)
		if err != nil {
			return nil, err
		}

		client := f.clientForNode(decision.Node)
		start := time.Now()
		vec, embedErr := client.Embed(ctx, model, input)
		release()

		if embedErr == nil {
			breaker.RecordSuccess()
			n.RecordSuccess(float64(time.Since(start).Milliseconds()))
			return vec, nil
		}

		breaker.RecordFailure()
		lastErr = embedErr
		n.RecordFailure()
		if !core.IsRetryable(embedErr) {
			return nil, embedErr
		}
		excluded[decision.Node.ID] = true
	}

	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", core.ErrMaxRetriesExceeded, f.defaultMaxAttempts, lastErr)
}

func excludeIDs(nodes []node.Snapshot, excluded map[string]bool) []node.Snapshot {
	if len(excluded) == 0 {
		return nodes
	}
	out := make([]node.Snapshot, 0, len(nodes))
	for _, n := range nodes {
		if !excluded[n.ID] {
			out = append(out, n)
		}
	}
	return out
}
