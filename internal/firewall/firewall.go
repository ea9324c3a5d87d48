// ABOUTME: Content firewall applied to inbound text before it reaches the generator
// ABOUTME: Exact-match intercepts answer with canned replies; co-occurrence rules block messages

package firewall

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
)

// BlockedSuffix is appended to every rejection message.
const BlockedSuffix = "\n(Message Blocked.)"

// ruleSeparator splits a configured rule into its two required substrings.
const ruleSeparator = "//"

// VerdictKind classifies the outcome of Inspect.
type VerdictKind int

const (
	// Pass means the text may continue to generation unchanged.
	Pass VerdictKind = iota
	// Intercepted means the text matched a canned reply; no generation happens.
	Intercepted
	// Blocked means a banned rule matched; Text holds the rejection.
	Blocked
)

func (k VerdictKind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Intercepted:
		return "intercepted"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Verdict is the result of inspecting one message.
type Verdict struct {
	Kind VerdictKind
	Text string
}

// Rule blocks a message when both substrings occur anywhere in it. A rule
// configured with one substring has an empty Second, which is always present.
type Rule struct {
	First  string
	Second string
}

// ParseRule splits "first//second" into a Rule.
func ParseRule(s string) Rule {
	first, second, _ := strings.Cut(s, ruleSeparator)
	return Rule{First: first, Second: second}
}

// Matches reports whether every required substring is present in text.
func (r Rule) Matches(text string) bool {
	return strings.Contains(text, r.First) && strings.Contains(text, r.Second)
}

// Config holds the firewall tables.
type Config struct {
	Intercepts map[string]string
	Banned     []string
	Rejections []string
}

// Firewall is safe for concurrent use.
type Firewall struct {
	intercepts map[string]string
	rules      []Rule
	rejections []string

	mu  sync.Mutex
	rng *rand.Rand

	logger *slog.Logger
}

// New builds a firewall. A nil rng uses a randomly seeded source.
func New(cfg Config, rng *rand.Rand, logger *slog.Logger) *Firewall {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	intercepts := make(map[string]string, len(cfg.Intercepts))
	for phrase, reply := range cfg.Intercepts {
		intercepts[strings.ToLower(phrase)] = reply
	}

	rules := make([]Rule, 0, len(cfg.Banned))
	for _, b := range cfg.Banned {
		rules = append(rules, ParseRule(b))
	}

	return &Firewall{
		intercepts: intercepts,
		rules:      rules,
		rejections: append([]string(nil), cfg.Rejections...),
		rng:        rng,
		logger:     logger.With("component", "firewall"),
	}
}

// Inspect checks text against the intercept table, then the banned rules.
func (f *Firewall) Inspect(text string) Verdict {
	if reply, ok := f.intercepts[strings.ToLower(text)]; ok {
		f.logger.Debug("message intercepted", "text", text)
		return Verdict{Kind: Intercepted, Text: reply}
	}

	for _, rule := range f.rules {
		if rule.Matches(text) {
			f.logger.Warn("banned message intercepted", "text", text, "rule", rule.First+ruleSeparator+rule.Second)
			return Verdict{Kind: Blocked, Text: f.rejection() + BlockedSuffix}
		}
	}

	return Verdict{Kind: Pass, Text: text}
}

// rejection picks from the pool. The draw covers [0, len-1), so the final
// entry of a pool with two or more messages is never chosen.
func (f *Firewall) rejection() string {
	switch len(f.rejections) {
	case 0:
		return ""
	case 1:
		return f.rejections[0]
	}
	f.mu.Lock()
	i := f.rng.IntN(len(f.rejections) - 1)
	f.mu.Unlock()
	return f.rejections[i]
}
