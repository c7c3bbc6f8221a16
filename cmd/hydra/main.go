// Command hydra is Hydra's CLI surface (spec §6): serve-api exposes the
// Pool/Orchestrator over HTTP; list-nodes, health, and benchmark are
// diagnostics. Grounded on the teacher's use of cobra for multi-command
// CLIs and core/middleware.go + core/cors.go for the HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydra-run/hydra"
	"github.com/hydra-run/hydra/core"
	"github.com/hydra-run/hydra/pool"
	"github.com/hydra-run/hydra/router"
	"github.com/spf13/cobra"
)

// Exit codes (spec §6 CLI surface).
const (
	exitSuccess        = 0
	exitGenericError   = 1
	exitMisconfigured  = 2
	exitNoHealthyNodes = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	root := &cobra.Command{
		Use:   "hydra",
		Short: "Hydra distributed inference orchestration layer",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON configuration file")

	exitCode := exitSuccess
	setExit := func(code int) { exitCode = code }

	root.AddCommand(serveAPICmd(&configPath, setExit))
	root.AddCommand(listNodesCmd(&configPath, setExit))
	root.AddCommand(healthCmd(&configPath, setExit))
	root.AddCommand(benchmarkCmd(&configPath, setExit))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == exitSuccess {
			exitCode = exitGenericError
		}
	}
	return exitCode
}

func loadConfig(configPath string) (*core.Config, error) {
	opts := []core.Option{}
	if configPath != "" {
		opts = append(opts, core.WithConfigFile(configPath))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)
	}
	return cfg, nil
}

func buildAndStart(ctx context.Context, configPath string) (*hydra.Hydra, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	h, err := hydra.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func serveAPICmd(configPath *string, setExit func(int)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-api",
		Short: "Expose the Pool and Orchestrator over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			h, err := buildAndStart(ctx, *configPath)
			if err != nil {
				setExit(exitMisconfigured)
				return err
			}

			mux := http.NewServeMux()
			mux.HandleFunc(h.Config.HTTP.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			})
			mux.HandleFunc("/v1/generate", generateHandler(h))
			mux.HandleFunc("/v1/nodes", nodesHandler(h))
			mux.HandleFunc("/v1/preferences", preferencesHandler(h))

			var handler http.Handler = mux
			if h.Config.HTTP.CORS.Enabled {
				handler = core.CORSMiddleware(&h.Config.HTTP.CORS)(handler)
			}
			handler = core.LoggingMiddleware(h.Logger, h.Config.Development.DebugLogging)(handler)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", h.Config.Port),
				Handler:           handler,
				ReadTimeout:       h.Config.HTTP.ReadTimeout,
				ReadHeaderTimeout: h.Config.HTTP.ReadHeaderTimeout,
				WriteTimeout:      h.Config.HTTP.WriteTimeout,
				IdleTimeout:       h.Config.HTTP.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.Config.HTTP.ShutdownTimeout)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					setExit(exitGenericError)
					return err
				}
				return nil
			}
		},
	}
}

func generateHandler(h *hydra.Hydra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Model          string   `json:"model"`
			Prompt         string   `json:"prompt"`
			Mode           string   `json:"mode"`
			MinSuccessRate *float64 `json:"min_success_rate"`
			PreferCPU      *bool    `json:"prefer_cpu"`
			NodeID         string   `json:"node_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		prefs, _ := h.UserPrefs.Load()
		mode := req.Mode
		if mode == "" {
			mode = prefs.Mode
		}
		minSuccessRate := prefs.MinSuccessRate
		if req.MinSuccessRate != nil {
			minSuccessRate = *req.MinSuccessRate
		}
		preferCPU := prefs.PreferCPU
		if req.PreferCPU != nil {
			preferCPU = *req.PreferCPU
		}

		hints := router.Hints{
			Mode:           router.Mode(mode),
			MinSuccessRate: minSuccessRate,
			PreferCPU:      preferCPU,
			NodeID:         req.NodeID,
		}

		resp, err := h.Pool.Generate(r.Context(), pool.Request{Model: req.Model, Prompt: req.Prompt, Hints: hints})
		if err != nil {
			status := http.StatusInternalServerError
			if core.IsNotFound(err) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func nodesHandler(h *hydra.Hydra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Registry.Snapshot())
	}
}

// preferencesHandler serves the persisted routing/UI preferences
// (spec §6 "Preferences file"): GET returns the current record, PUT
// replaces it under the store's file lock.
func preferencesHandler(h *hydra.Hydra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			prefs, err := h.UserPrefs.Load()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(prefs)

		case http.MethodPut:
			var prefs core.UserPreferences
			if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := h.UserPrefs.Save(prefs); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func listNodesCmd(configPath *string, setExit func(int)) *cobra.Command {
	return &cobra.Command{
		Use:   "list-nodes",
		Short: "List every discovered node and its current health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			h, err := buildAndStart(ctx, *configPath)
			if err != nil {
				setExit(exitMisconfigured)
				return err
			}
			h.Monitor.ProbeAll(ctx)

			for _, n := range h.Registry.Snapshot() {
				fmt.Printf("%-20s %-8s healthy=%-5v active=%d/%d success_rate=%.2f avg_latency_ms=%.1f\n",
					n.ID, n.Kind, n.Healthy, n.ActiveRequests, n.MaxConcurrent, n.SuccessRate, n.AvgLatencyMs)
			}
			return nil
		},
	}
}

func healthCmd(configPath *string, setExit func(int)) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every node once and report overall pool health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			h, err := buildAndStart(ctx, *configPath)
			if err != nil {
				setExit(exitMisconfigured)
				return err
			}
			h.Monitor.ProbeAll(ctx)

			anyHealthy := false
			for _, n := range h.Registry.Snapshot() {
				if n.Healthy {
					anyHealthy = true
				}
			}
			if !anyHealthy {
				setExit(exitNoHealthyNodes)
				return fmt.Errorf("%w", core.ErrNoHealthyNodes)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func benchmarkCmd(configPath *string, setExit func(int)) *cobra.Command {
	var model, prompt string
	var requests int

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Exercise Pool.Generate against the live pool and report latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			h, err := buildAndStart(ctx, *configPath)
			if err != nil {
				setExit(exitMisconfigured)
				return err
			}
			h.Monitor.ProbeAll(ctx)

			var total time.Duration
			succeeded := 0
			for i := 0; i < requests; i++ {
				start := time.Now()
				_, err := h.Pool.Generate(ctx, pool.Request{Model: model, Prompt: prompt})
				elapsed := time.Since(start)
				if err != nil {
					fmt.Printf("request %d failed after %s: %v\n", i+1, elapsed, err)
					continue
				}
				total += elapsed
				succeeded++
			}
			if succeeded == 0 {
				setExit(exitGenericError)
				return fmt.Errorf("all %d benchmark requests failed", requests)
			}
			fmt.Printf("%d/%d succeeded, avg latency %s\n", succeeded, requests, total/time.Duration(succeeded))
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "llama3.2:3b", "model to benchmark")
	cmd.Flags().StringVar(&prompt, "prompt", "Write a hello world program.", "prompt to send")
	cmd.Flags().IntVar(&requests, "requests", 10, "number of requests to issue")
	return cmd
}
