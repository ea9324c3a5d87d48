// ABOUTME: SessionBroker orchestrates one conversational turn from inbound text to reply
// ABOUTME: Sudo toggle, command dispatch, firewall, history, generation and extraction run in strict order

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/casuallyexisting/exo/internal/chatlog"
	"github.com/casuallyexisting/exo/internal/command"
	"github.com/casuallyexisting/exo/internal/firewall"
	"github.com/casuallyexisting/exo/internal/generator"
	"github.com/casuallyexisting/exo/internal/session"
	"github.com/casuallyexisting/exo/internal/turn"
)

// NoResponse is returned when generation yields no attributable line.
const NoResponse = "No response :("

const sudoCommand = "sudo"

// ErrDeliberateTest is returned when a sudoer runs errortest.
var ErrDeliberateTest = errors.New("deliberate test error")

// Options configures a Broker.
type Options struct {
	Player    string
	Roster    []string
	StopToken string
	// BeamWidth is the candidate count requested under Beam and GlobalBeam.
	BeamWidth int
	Params    generator.Params
	// Timeout bounds each generation call.
	Timeout time.Duration
}

// Broker handles turns. It is safe for concurrent use; turns for one user are
// serialized in arrival order while different users proceed in parallel.
type Broker struct {
	opts      Options
	store     *session.Store
	router    *command.Router
	firewall  *firewall.Firewall
	gen       generator.Generator
	extractor turn.Extractor
	access    command.Access
	chatlog   chatlog.Sink
	logger    *slog.Logger
}

// Deps are the collaborators a Broker drives.
type Deps struct {
	Store     *session.Store
	Router    *command.Router
	Firewall  *firewall.Firewall
	Generator generator.Generator
	Access    command.Access
	// ChatLog may be nil, in which case nothing is recorded.
	ChatLog chatlog.Sink
}

// New creates a broker.
func New(opts Options, deps Deps, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BeamWidth < 1 {
		opts.BeamWidth = 1
	}
	sink := deps.ChatLog
	if sink == nil {
		sink = chatlog.Nop{}
	}
	return &Broker{
		opts:     opts,
		store:    deps.Store,
		router:   deps.Router,
		firewall: deps.Firewall,
		gen:      deps.Generator,
		extractor: turn.Extractor{
			Player:    opts.Player,
			Roster:    opts.Roster,
			StopToken: opts.StopToken,
		},
		access:  deps.Access,
		chatlog: sink,
		logger:  logger.With("component", "broker"),
	}
}

// Privileged reports whether userID may see internal error details.
func (b *Broker) Privileged(userID string) bool {
	return b.access.IsSudoer(userID) || b.access.IsOperator(userID)
}

// HandleTurn runs one turn for userID and returns the reply text. The only
// error it returns is ErrDeliberateTest (wrapped); every other outcome,
// including backend failure, is a reply.
func (b *Broker) HandleTurn(ctx context.Context, userID, text string) (string, error) {
	sess := b.store.GetOrCreate(userID)
	sess.Lock()
	defer sess.Unlock()

	start := time.Now()
	logger := b.logger.With("user_id", userID)

	b.record(ctx, &chatlog.Event{
		UserID:    userID,
		Direction: chatlog.DirectionInbound,
		Kind:      chatlog.KindMessage,
		Speaker:   b.opts.Player,
		Text:      text,
	})

	if text == sudoCommand {
		return b.router.ToggleSudo(userID, sess).Text, nil
	}

	input := text
	if sess.Sudo() {
		res := b.router.Dispatch(userID, sess, text)
		switch res.Kind {
		case command.ReplyResult:
			return res.Text, nil
		case command.FaultResult:
			return "", fmt.Errorf("%w: %s", ErrDeliberateTest, res.Detail)
		case command.RewriteResult:
			input = res.Text
		}
	}

	mode := sess.Mode()
	debug := sess.Sudo()
	if mode == session.ModeBeam {
		// One-shot beam ends with this turn whatever its outcome.
		defer sess.EndOneShotBeam()
	}

	verdict := b.firewall.Inspect(input)
	switch verdict.Kind {
	case firewall.Intercepted, firewall.Blocked:
		kind := chatlog.KindIntercepted
		if verdict.Kind == firewall.Blocked {
			kind = chatlog.KindBlocked
		}
		b.record(ctx, &chatlog.Event{UserID: userID, Direction: chatlog.DirectionOutbound, Kind: kind, Text: verdict.Text})
		logger.Info("turn complete", "outcome", verdict.Kind.String(), "duration", time.Since(start))
		return verdict.Text, nil
	}

	if input != "" {
		sess.AppendHistory(b.opts.Player + ": " + input + "\n")
	}
	prompt := sess.History()

	n := 1
	if mode.Beaming() {
		n = b.opts.BeamWidth
	}

	resp, err := b.generate(ctx, prompt, n)
	if err != nil {
		logger.Warn("generation failed", "error", err, "duration", time.Since(start))
		reply := NoResponse
		if b.Privileged(userID) {
			reply += "\n" + err.Error()
		}
		b.recordNoResponse(ctx, userID)
		return reply, nil
	}

	var replies []turn.Reply
	var trace turn.Trace
	if mode.Beaming() {
		replies, trace = b.extractor.ExtractAll(resp.Candidates, resp.PromptLen)
	} else if len(resp.Candidates) > 0 {
		var reply turn.Reply
		var ok bool
		reply, trace, ok = b.extractor.Extract(resp.Candidates[0], resp.PromptLen)
		if ok {
			replies = []turn.Reply{reply}
		}
	}

	if len(replies) == 0 {
		logger.Info("turn complete", "outcome", "no_response", "duration", time.Since(start))
		b.recordNoResponse(ctx, userID)
		return NoResponse, nil
	}

	sess.AppendHistory(replies[0].Line + "\n")

	if mode.Beaming() {
		b.record(ctx, &chatlog.Event{
			UserID:    userID,
			Direction: chatlog.DirectionOutbound,
			Kind:      chatlog.KindBeam,
			Speaker:   replies[0].Speaker,
			Text:      replies[0].Line,
		})
		logger.Info("turn complete", "outcome", "beam", "mode", mode.String(), "responses", len(replies), "duration", time.Since(start))
		return formatBeam(replies), nil
	}

	b.record(ctx, &chatlog.Event{
		UserID:    userID,
		Direction: chatlog.DirectionOutbound,
		Kind:      chatlog.KindReply,
		Speaker:   replies[0].Speaker,
		Text:      replies[0].Line,
	})
	logger.Info("turn complete", "outcome", "reply", "speaker", replies[0].Speaker, "duration", time.Since(start))

	out := replies[0].Text
	if debug {
		out += "\nINPUTTED PROMPT: \n" + prompt + "\n" + trace.String()
	}
	return out, nil
}

type generation struct {
	resp     *generator.Response
	err      error
	panicked any
}

// generate bounds the backend call by the turn timeout even when the backend
// ignores its context. A result arriving after the deadline is discarded.
func (b *Broker) generate(ctx context.Context, prompt string, n int) (*generator.Response, error) {
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	req := generator.Request{Prompt: prompt, N: n, Params: b.opts.Params}
	done := make(chan generation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generation{panicked: r}
			}
		}()
		resp, err := b.gen.Generate(ctx, req)
		done <- generation{resp: resp, err: err}
	}()

	var res generation
	select {
	case res = <-done:
	case <-ctx.Done():
		res = generation{err: ctx.Err()}
	}
	if res.panicked != nil {
		// Re-raised on the turn goroutine so the listener's recovery sees it.
		panic(res.panicked)
	}

	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(res.err, generator.ErrTimeout) {
			return nil, &generator.ClientError{Type: generator.ErrTypeTimeout, Message: "generation timed out", Cause: res.err}
		}
		return nil, res.err
	}
	if res.resp == nil {
		return &generator.Response{}, nil
	}
	return res.resp, nil
}

func (b *Broker) recordNoResponse(ctx context.Context, userID string) {
	b.record(ctx, &chatlog.Event{
		UserID:    userID,
		Direction: chatlog.DirectionOutbound,
		Kind:      chatlog.KindNoResponse,
		Text:      NoResponse,
	})
}

// record writes to the chat log when chat logging is enabled. Failures are
// logged and never fail the turn.
func (b *Broker) record(ctx context.Context, event *chatlog.Event) {
	if !b.store.ChatLogging() {
		return
	}
	if err := b.chatlog.Record(ctx, event); err != nil {
		b.logger.Warn("failed to record chat event", "user_id", event.UserID, "kind", event.Kind, "error", err)
	}
}

func formatBeam(replies []turn.Reply) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BEAM OUTPUT (%d responses generated):\n", len(replies))
	for _, r := range replies {
		sb.WriteString("- ")
		sb.WriteString(r.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
