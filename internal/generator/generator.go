// ABOUTME: Generator collaborator contract shared by every text-generation backend
// ABOUTME: Defines requests, responses, typed client errors and backend selection from config

package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casuallyexisting/exo/internal/config"
)

// Params are the sampling parameters forwarded opaquely to the backend.
type Params struct {
	Temperature       float64
	TopK              int
	TopP              float64
	RepetitionPenalty float64
	MaxNewTokens      int
	Seed              int
	StopToken         string
}

// ParamsFromConfig copies the sampling parameters out of the generation config.
func ParamsFromConfig(cfg config.GenerationConfig) Params {
	return Params{
		Temperature:       cfg.Temperature,
		TopK:              cfg.TopK,
		TopP:              cfg.TopP,
		RepetitionPenalty: cfg.RepetitionPenalty,
		MaxNewTokens:      cfg.MaxNewTokens,
		Seed:              cfg.Seed,
		StopToken:         cfg.StopToken,
	}
}

// Request asks for N continuations of Prompt.
type Request struct {
	Prompt string
	N      int
	Params Params
}

// Response holds the raw candidates. Backends that echo the prompt set
// PromptLen to the number of leading bytes each candidate repeats.
type Response struct {
	Candidates []string
	PromptLen  int
}

// Info identifies a backend for the core command.
type Info struct {
	Engine string
	Model  string
}

// Generator produces continuation text.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Info() Info
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Info reports a generic engine name.
func (f Func) Info() Info {
	return Info{Engine: "func"}
}

// ErrorType categorizes backend failures.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnavailable
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeUnavailable:
		return "unavailable"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ClientError is returned by every backend.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same type, so errors.Is(err, ErrTimeout)
// holds for every timeout regardless of message.
func (e *ClientError) Is(target error) bool {
	var t *ClientError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

// Sentinel errors for easy checking.
var (
	ErrUnavailable   = &ClientError{Type: ErrTypeUnavailable, Message: "generator unavailable"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "generation timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// classify maps transport errors onto ClientError.
func classify(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "generation timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeUnavailable, Message: msg, Cause: err}
}

// New builds the backend named by cfg.Backend, wrapped with padding when
// cfg.PaddingText is set.
func New(ctx context.Context, cfg config.GenerationConfig, roster []string, player string, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var g Generator
	switch cfg.Backend {
	case "ollama":
		g = NewOllama(OllamaConfig{BaseURL: cfg.Endpoint, Model: cfg.Model}, logger)
	case "gemini":
		gem, err := NewGemini(ctx, cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		g = gem
	case "echo":
		g = NewEcho(firstSpeaker(roster, player))
	default:
		return nil, fmt.Errorf("unsupported generation backend %q", cfg.Backend)
	}

	if cfg.PaddingText != "" {
		g = WithPadding(g, cfg.PaddingText)
	}
	return g, nil
}

func firstSpeaker(roster []string, player string) string {
	for _, name := range roster {
		if name != player {
			return name
		}
	}
	return "Echo"
}

type padded struct {
	inner   Generator
	padding string
}

// WithPadding prepends padding to every prompt. Some models produce poor
// continuations from very short prompts without it.
func WithPadding(g Generator, padding string) Generator {
	return &padded{inner: g, padding: padding}
}

func (p *padded) Generate(ctx context.Context, req Request) (*Response, error) {
	req.Prompt = p.padding + req.Prompt
	return p.inner.Generate(ctx, req)
}

func (p *padded) Info() Info {
	return p.inner.Info()
}
