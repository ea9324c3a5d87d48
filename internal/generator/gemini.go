// ABOUTME: Gemini backend built on the google.golang.org/genai client
// ABOUTME: The transcript is sent as a single user turn and each candidate's text is returned

package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini generates continuations through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		logger: logger.With("component", "gemini"),
	}, nil
}

// Info implements Generator.
func (g *Gemini) Info() Info {
	return Info{Engine: "gemini", Model: g.model}
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	n := max(req.N, 1)
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, geminiConfig(req.Params, n))
	if err != nil {
		return nil, classify(ctx, "gemini generate failed", err)
	}

	candidates := make([]string, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range c.Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
		candidates = append(candidates, b.String())
	}
	if len(candidates) == 0 {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "gemini returned no candidates"}
	}

	g.logger.Debug("generated candidates", "model", g.model, "requested", n, "received", len(candidates))
	return &Response{Candidates: candidates}, nil
}

func geminiConfig(p Params, n int) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(p.Temperature)),
		CandidateCount: int32(n),
		Seed:           genai.Ptr(int32(p.Seed)),
	}
	if p.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(p.TopP))
	}
	if p.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(p.TopK))
	}
	if p.MaxNewTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxNewTokens)
	}
	if p.StopToken != "" {
		cfg.StopSequences = []string{p.StopToken}
	}
	return cfg
}
