package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hydra-run/hydra/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Write([]byte(`{"response":"hello world","done":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	result, err := c.Generate(context.Background(), "llama3.2:3b", "say hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
}

func TestGenerate_OOMClassifiesAsResourceExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model requires more system memory (cannot allocate)"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Generate(context.Background(), "llama3.1:70b", "say hi", Options{})
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
}

func TestGenerate_NotFoundClassifiesAsModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("model not found"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Generate(context.Background(), "missing-model", "hi", Options{})
	assert.ErrorIs(t, err, core.ErrModelNotFound)
}

func TestGenerateStream_YieldsEachFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"he","done":false}` + "\n"))
		w.Write([]byte(`{"response":"llo","done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	chunks, errs := c.GenerateStream(context.Background(), "model", "hi", Options{})

	var texts []string
	for ch := range chunks {
		texts = append(texts, ch.Text)
	}
	err, ok := <-errs
	assert.False(t, ok || err != nil)
	assert.Equal(t, []string{"he", "llo"}, texts)
}

func TestEmbed_ReturnsFirstVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	vec, err := c.Embed(context.Background(), "model", "text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestListModels_ParsesNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"a"},{"name":"b"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	names, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestHealth_TrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient("", nil)
	assert.True(t, c.Health(context.Background(), srv.URL))
}

func TestHealth_FalseOnUnreachable(t *testing.T) {
	c := NewClient("", nil)
	assert.False(t, c.Health(context.Background(), "http://127.0.0.1:1"))
}
