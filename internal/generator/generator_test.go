// ABOUTME: Tests for the generator backends and helpers
// ABOUTME: Uses httptest to stand in for the Ollama server

package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casuallyexisting/exo/internal/config"
)

func TestOllama_Generate(t *testing.T) {
	var mu sync.Mutex
	var seeds []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaGenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.True(t, req.Raw)
		assert.False(t, req.Stream)
		assert.Equal(t, "Exo: hi\n", req.Prompt)
		assert.Equal(t, 20, req.Options.NumPredict)
		assert.Equal(t, []string{"<eos>"}, req.Options.Stop)

		mu.Lock()
		seeds = append(seeds, req.Options.Seed)
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "Alice: hello", Done: true})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL + "/", Model: "llama3"}, nil)
	resp, err := o.Generate(context.Background(), Request{
		Prompt: "Exo: hi\n",
		N:      3,
		Params: Params{MaxNewTokens: 20, Seed: 42, StopToken: "<eos>"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice: hello", "Alice: hello", "Alice: hello"}, resp.Candidates)
	assert.Zero(t, resp.PromptLen)

	sort.Ints(seeds)
	assert.Equal(t, []int{42, 43, 44}, seeds, "each candidate gets its own seed")
	assert.Equal(t, Info{Engine: "ollama", Model: "llama3"}, o.Info())
}

func TestOllama_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "missing"}, nil)
	_, err := o.Generate(context.Background(), Request{Prompt: "x", N: 1})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestOllama_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ollamaError{Error: "out of memory"})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL}, nil)
	_, err := o.Generate(context.Background(), Request{Prompt: "x"})

	var cerr *ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrTypeInvalidResponse, cerr.Type)
	assert.Equal(t, "out of memory", cerr.Message)
}

func TestOllama_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	o := NewOllama(OllamaConfig{BaseURL: srv.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: url}, nil)
	_, err := o.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEcho_Generate(t *testing.T) {
	e := NewEcho("Alice")
	prompt := "Alice: hey\nExo: how are you\n"

	resp, err := e.Generate(context.Background(), Request{Prompt: prompt, N: 2})
	require.NoError(t, err)
	require.Len(t, resp.Candidates, 2)
	assert.Equal(t, len(prompt), resp.PromptLen)
	assert.Equal(t, prompt+"\nAlice: how are you\n", resp.Candidates[0])
}

func TestEcho_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEcho("Alice").Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWithPadding(t *testing.T) {
	var got string
	inner := Func(func(ctx context.Context, req Request) (*Response, error) {
		got = req.Prompt
		return &Response{Candidates: []string{"ok"}}, nil
	})

	g := WithPadding(inner, "PAD ")
	_, err := g.Generate(context.Background(), Request{Prompt: "Exo: hi\n"})
	require.NoError(t, err)
	assert.Equal(t, "PAD Exo: hi\n", got)
	assert.Equal(t, inner.Info(), g.Info())
}

func TestClientError_Is(t *testing.T) {
	err := &ClientError{Type: ErrTypeTimeout, Message: "slow", Cause: context.DeadlineExceeded}
	wrapped := errors.Join(errors.New("turn failed"), err)

	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.NotErrorIs(t, wrapped, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "slow: context deadline exceeded", err.Error())
}

func TestNew_Backends(t *testing.T) {
	cfg := config.Default().Generation

	cfg.Backend = "echo"
	g, err := New(context.Background(), cfg, []string{"Exo", "Alice"}, "Exo", nil)
	require.NoError(t, err)
	assert.Equal(t, Info{Engine: "echo", Model: "Alice"}, g.Info())

	cfg.Backend = "ollama"
	cfg.Model = "llama3"
	cfg.PaddingText = "pad"
	g, err = New(context.Background(), cfg, nil, "Exo", nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", g.Info().Engine)
	assert.IsType(t, &padded{}, g)

	cfg.Backend = "gemini"
	cfg.APIKey = ""
	_, err = New(context.Background(), cfg, nil, "Exo", nil)
	assert.Error(t, err)

	cfg.Backend = "gpt-9"
	_, err = New(context.Background(), cfg, nil, "Exo", nil)
	assert.Error(t, err)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.Default().Generation
	p := ParamsFromConfig(cfg)
	assert.Equal(t, cfg.Temperature, p.Temperature)
	assert.Equal(t, cfg.MaxNewTokens, p.MaxNewTokens)
	assert.Equal(t, cfg.Seed, p.Seed)
}
