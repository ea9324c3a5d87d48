// ABOUTME: Echo backend that answers without a model, for smoke tests and local setups
// ABOUTME: It repeats the prompt and continues with the last message attributed to one speaker

package generator

import (
	"context"
	"strings"
)

// Echo continues every prompt with "<Speaker>: <last message>". It echoes
// the prompt the way local language models do, so PromptLen is set.
type Echo struct {
	Speaker string
}

// NewEcho creates an echo backend speaking as speaker.
func NewEcho(speaker string) *Echo {
	return &Echo{Speaker: speaker}
}

// Info implements Generator.
func (e *Echo) Info() Info {
	return Info{Engine: "echo", Model: e.Speaker}
}

// Generate implements Generator.
func (e *Echo) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, "echo cancelled", err)
	}

	continuation := "\n" + e.Speaker + ": " + lastMessage(req.Prompt) + "\n"
	n := max(req.N, 1)
	candidates := make([]string, n)
	for i := range candidates {
		candidates[i] = req.Prompt + continuation
	}
	return &Response{Candidates: candidates, PromptLen: len(req.Prompt)}, nil
}

// lastMessage returns the text of the final non-empty prompt line with its
// speaker prefix removed.
func lastMessage(prompt string) string {
	lines := strings.Split(strings.TrimRight(prompt, "\n"), "\n")
	last := lines[len(lines)-1]
	if _, text, ok := strings.Cut(last, ": "); ok {
		return text
	}
	return last
}
