// ABOUTME: Ollama backend using raw /api/generate completions
// ABOUTME: Candidates are requested concurrently with distinct seeds

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultOllamaURL = "http://127.0.0.1:11434"

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Ollama generates raw continuations from a local Ollama server.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ollamaOptions struct {
	Temperature   float64  `json:"temperature"`
	TopK          int      `json:"top_k,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
	Seed          int      `json:"seed"`
	Stop          []string `json:"stop,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllama creates an Ollama backend.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	client := cfg.HTTPClient
	if client == nil {
		// Deadlines come from the caller's context.
		client = &http.Client{}
	}
	return &Ollama{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: client,
		logger:     logger.With("component", "ollama"),
	}
}

// Info implements Generator.
func (o *Ollama) Info() Info {
	return Info{Engine: "ollama", Model: o.model}
}

// Generate implements Generator. Ollama returns only the continuation, so
// PromptLen is always zero.
func (o *Ollama) Generate(ctx context.Context, req Request) (*Response, error) {
	n := max(req.N, 1)
	candidates := make([]string, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			text, err := o.generateOne(gctx, req.Prompt, req.Params, req.Params.Seed+i)
			if err != nil {
				return err
			}
			candidates[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Response{Candidates: candidates}, nil
}

func (o *Ollama) generateOne(ctx context.Context, prompt string, p Params, seed int) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Raw:    true,
		Stream: false,
		Options: ollamaOptions{
			Temperature:   p.Temperature,
			TopK:          p.TopK,
			TopP:          p.TopP,
			RepeatPenalty: p.RepetitionPenalty,
			NumPredict:    p.MaxNewTokens,
			Seed:          seed,
		},
	}
	if p.StopToken != "" {
		reqBody.Options.Stop = []string{p.StopToken}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnavailable, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(ctx, "ollama is not reachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var oerr ollamaError
		if err := json.NewDecoder(resp.Body).Decode(&oerr); err == nil && oerr.Error != "" {
			return "", &ClientError{Type: ErrTypeInvalidResponse, Message: oerr.Error}
		}
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "generate request failed: " + resp.Status}
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	o.logger.Debug("generated candidate", "model", o.model, "seed", seed, "bytes", len(result.Response))
	return result.Response, nil
}
