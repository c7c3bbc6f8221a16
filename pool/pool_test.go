package pool

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/hydra-run/hydra/backend"
	"github.com/hydra-run/hydra/node"
	"github.com/hydra-run/hydra/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func registerServerNode(t *testing.T, registry *node.Registry, id string, srv *httptest.Server) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n := node.New(id, host, port, node.KindGPU)
	n.MarkHealthy()
	registry.Register(n)
}

func newFacadeClientFactory() ClientFactory {
	return func(baseURL string) *backend.Client { return backend.NewClient(baseURL, nil) }
}

type staticFallback struct {
	next map[string]string
}

func (f staticFallback) Fallback(model string) (string, bool) {
	n, ok := f.next[model]
	return n, ok
}

func TestGenerate_SuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	registry := node.NewRegistry()
	registerServerNode(t, registry, "n1", srv)

	facade := New(registry, newFacadeClientFactory(), nil)
	resp, err := facade.Generate(context.Background(), Request{Model: "m", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "n1", resp.NodeID)
	assert.Equal(t, 1, resp.Attempts)
}

func TestGenerate_FailsOverToHealthyNode(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"recovered","done":true}`))
	}))
	defer good.Close()

	registry := node.NewRegistry()
	registerServerNode(t, registry, "bad", bad)
	registerServerNode(t, registry, "good", good)

	facade := New(registry, newFacadeClientFactory(), nil, WithMaxAttempts(3))
	resp, err := facade.Generate(context.Background(), Request{Model: "m", Prompt: "hi", Hints: router.Hints{NodeID: "bad"}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, "good", resp.NodeID)
}

func TestGenerate_NoHealthyNodes(t *testing.T) {
	registry := node.NewRegistry()
	facade := New(registry, newFacadeClientFactory(), nil)
	_, err := facade.Generate(context.Background(), Request{Model: "m", Prompt: "hi"})
	assert.Error(t, err)
}

func TestGenerate_ResourceExhaustionFallsBackToSmallerModel(t *testing.T) {
	var gotModels []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = decodeJSONBody(r, &body)
		gotModels = append(gotModels, body.Model)
		if body.Model == "big" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("cannot allocate memory"))
			return
		}
		w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	registry := node.NewRegistry()
	registerServerNode(t, registry, "n1", srv)

	fallback := staticFallback{next: map[string]string{"big": "small"}}
	facade := New(registry, newFacadeClientFactory(), nil, WithFallbackChain(fallback), WithMaxAttempts(3))

	resp, err := facade.Generate(context.Background(), Request{Model: "big", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "small", resp.Model)
	assert.Equal(t, []string{"big", "small"}, gotModels)
}

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[[1,2,3]]}`))
	}))
	defer srv.Close()

	registry := node.NewRegistry()
	registerServerNode(t, registry, "n1", srv)

	facade := New(registry, newFacadeClientFactory(), nil)
	vec, err := facade.Embed(context.Background(), "m", "text", router.Hints{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vec)
}
