// Package backend implements the Backend Client (spec §4.1): a thin
// per-node wrapper over the documented local-inference HTTP API (spec
// §6), grounded on the teacher's ai/client.go HTTP-client shape but
// talking the Ollama wire dialect instead of a cloud chat-completions API.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hydra-run/hydra/core"
)

// Options mirrors the sampling/runtime options spec §6 documents for
// POST /api/generate and /api/embed.
type Options struct {
	Temperature   float32
	TopP          float32
	RepeatPenalty float32
	NumPredict    int
	// KeepAlive controls how long Ollama keeps the model resident;
	// "0" evicts immediately (used by the Pool Facade for large models).
	KeepAlive string
}

// GenerateResult is the non-streaming response to generate().
type GenerateResult struct {
	Text       string
	DurationMs int64
}

// Chunk is one frame of a streamed generate_stream() response.
type Chunk struct {
	Text string
	Done bool
}

// Client is a Backend Client bound to a single node's base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     core.Logger
}

// NewClient builds a Backend Client. No request timeout is set on the
// shared http.Client: spec §5 makes model generation untimed by policy,
// cancellation via context is the sole abort mechanism.
func NewClient(baseURL string, logger core.Logger) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (c *Client) optionsPayload(opts Options) map[string]interface{} {
	payload := map[string]interface{}{}
	if opts.Temperature != 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.TopP != 0 {
		payload["top_p"] = opts.TopP
	}
	if opts.RepeatPenalty != 0 {
		payload["repeat_penalty"] = opts.RepeatPenalty
	}
	if opts.NumPredict != 0 {
		payload["num_predict"] = opts.NumPredict
	}
	return payload
}

// Generate issues a non-streaming POST /api/generate (spec §6).
func (c *Client) Generate(ctx context.Context, model, prompt string, opts Options) (*GenerateResult, error) {
	start := time.Now()

	reqBody := map[string]interface{}{
		"model":   model,
		"prompt":  prompt,
		"stream":  false,
		"options": c.optionsPayload(opts),
	}
	if opts.KeepAlive != "" {
		reqBody["keep_alive"] = opts.KeepAlive
	}

	body, err := c.post(ctx, "/api/generate", reqBody)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, core.NewHydraError("backend.Generate", "parse", err)
	}

	return &GenerateResult{
		Text:       decoded.Response,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream issues a streaming POST /api/generate and yields each
// newline-delimited JSON frame as soon as it arrives (spec §4.1: "must
// yield each chunk as soon as it arrives, no buffering beyond a single
// line/frame"). The returned channels are closed exactly once; the error
// channel carries at most one value.
func (c *Client) GenerateStream(ctx context.Context, model, prompt string, opts Options) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	reqBody := map[string]interface{}{
		"model":   model,
		"prompt":  prompt,
		"stream":  true,
		"options": c.optionsPayload(opts),
	}
	if opts.KeepAlive != "" {
		reqBody["keep_alive"] = opts.KeepAlive
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			errs <- core.NewHydraError("backend.GenerateStream", "parse", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
		if err != nil {
			errs <- core.NewHydraError("backend.GenerateStream", "transport", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", core.ErrTransport, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errs <- classifyStatusError(resp.StatusCode, body)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var frame struct {
				Response string `json:"response"`
				Done     bool   `json:"done"`
			}
			if err := json.Unmarshal(line, &frame); err != nil {
				errs <- core.NewHydraError("backend.GenerateStream", "parse", err)
				return
			}

			select {
			case chunks <- Chunk{Text: frame.Response, Done: frame.Done}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			if frame.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("%w: %v", core.ErrTransport, err)
		}
	}()

	return chunks, errs
}

// Embed issues POST /api/embed (spec §6).
func (c *Client) Embed(ctx context.Context, model, input string) ([]float64, error) {
	body, err := c.post(ctx, "/api/embed", map[string]interface{}{
		"model": model,
		"input": input,
	})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, core.NewHydraError("backend.Embed", "parse", err)
	}
	if len(decoded.Embeddings) == 0 {
		return nil, core.NewHydraError("backend.Embed", "parse", fmt.Errorf("empty embeddings response"))
	}
	return decoded.Embeddings[0], nil
}

// ListModels issues GET /api/tags, returning every model name the node
// reports as available on disk (not necessarily loaded).
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, core.NewHydraError("backend.ListModels", "parse", err)
	}

	names := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ListLoaded issues GET /api/ps, returning models currently resident in
// VRAM/RAM on the node.
func (c *Client) ListLoaded(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/ps")
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, core.NewHydraError("backend.ListLoaded", "parse", err)
	}

	names := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health performs a cheap reachability check against GET /api/tags,
// without loading any model (spec §4.1). It takes an explicit baseURL,
// rather than c.baseURL, so a single Client can also serve as the
// node.Prober used by discovery and the Health Monitor to probe
// arbitrary candidate addresses.
func (c *Client) Health(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewHydraError("backend.post", "parse", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, core.NewHydraError("backend.post", "transport", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, core.NewHydraError("backend.get", "transport", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp.StatusCode, body)
	}
	return body, nil
}

// classifyStatusError maps an HTTP status to the spec §7 error taxonomy.
func classifyStatusError(status int, body []byte) error {
	text := string(body)
	if core.IsOOMError(text) {
		return fmt.Errorf("%w: %s", core.ErrResourceExhausted, text)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", core.ErrModelNotFound, text)
	}
	if status >= 500 {
		return fmt.Errorf("%w: status %d: %s", core.ErrTransport, status, text)
	}
	return fmt.Errorf("backend request failed: status %d: %s", status, text)
}
