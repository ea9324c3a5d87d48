// ABOUTME: Tests for the Matrix adapter against an httptest homeserver and a fake broker
// ABOUTME: Verifies filtering, sender prefixing, reply posting and failure reporting

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type sentMessage struct {
	room string
	body string
}

// fakeHomeserver records messages sent through the client-server API.
type fakeHomeserver struct {
	mu     sync.Mutex
	sent   []sentMessage
	typing int
	srv    *httptest.Server
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{}
	hs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case strings.Contains(path, "/send/m.room.message/"):
			var content struct {
				Body string `json:"body"`
			}
			_ = json.NewDecoder(r.Body).Decode(&content)
			room := strings.SplitN(strings.SplitN(path, "/rooms/", 2)[1], "/", 2)[0]
			hs.mu.Lock()
			hs.sent = append(hs.sent, sentMessage{room: room, body: content.Body})
			hs.mu.Unlock()
			_, _ = w.Write([]byte(`{"event_id":"$sent"}`))
		case strings.Contains(path, "/typing/"):
			hs.mu.Lock()
			hs.typing++
			hs.mu.Unlock()
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(hs.srv.Close)
	return hs
}

func (hs *fakeHomeserver) messages() []sentMessage {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]sentMessage(nil), hs.sent...)
}

type fakeBroker struct {
	mu    sync.Mutex
	calls []string
	reply string
	err   error
}

func (f *fakeBroker) Send(_ context.Context, sender, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sender+"://"+text)
	return f.reply, f.err
}

func (f *fakeBroker) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T, hs *fakeHomeserver, broker BrokerClient, mutate func(*Config)) *Bridge {
	t.Helper()
	cfg, err := Parse(`
[matrix]
homeserver = "` + hs.srv.URL + `"
user_id = "@exo:example.org"
access_token = "tok"

[bridge]
updates_room = "!updates:example.org"
`)
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	b, err := NewBridge(cfg, broker, testLogger())
	require.NoError(t, err)
	t.Cleanup(b.cancel)
	return b
}

func textEvent(sender, room, body string) *event.Event {
	return &event.Event{
		Sender: id.UserID(sender),
		RoomID: id.RoomID(room),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestBridge_ForwardsAndReplies(t *testing.T) {
	hs := newFakeHomeserver(t)
	broker := &fakeBroker{reply: "Alice: hi"}
	b := newTestBridge(t, hs, broker, nil)

	b.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!room:example.org", "hello"))
	b.wg.Wait()

	assert.Equal(t, []string{"MATRIX-@bob:example.org://hello"}, broker.seen())
	assert.Equal(t, []sentMessage{{room: "!room:example.org", body: "Alice: hi"}}, hs.messages())
	hs.mu.Lock()
	assert.Equal(t, 2, hs.typing, "typing on and off")
	hs.mu.Unlock()
}

func TestBridge_Filters(t *testing.T) {
	hs := newFakeHomeserver(t)
	broker := &fakeBroker{reply: "x"}
	b := newTestBridge(t, hs, broker, func(c *Config) {
		c.Bridge.AllowedRooms = []string{"!ok:example.org"}
	})

	b.handleMessageEvent(context.Background(), textEvent("@exo:example.org", "!ok:example.org", "own message"))
	b.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!ok:example.org", "!!ignored"))
	b.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!other:example.org", "wrong room"))
	b.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!ok:example.org", ""))

	notice := textEvent("@bob:example.org", "!ok:example.org", "a notice")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	b.handleMessageEvent(context.Background(), notice)

	b.wg.Wait()
	assert.Empty(t, broker.seen())
	assert.Empty(t, hs.messages())
}

func TestBridge_BrokerFailure(t *testing.T) {
	hs := newFakeHomeserver(t)
	broker := &fakeBroker{err: errors.New("dial broker: connection refused")}
	b := newTestBridge(t, hs, broker, func(c *Config) { c.Bridge.TypingIndicator = false })

	b.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!room:example.org", "hello"))
	b.wg.Wait()

	assert.ElementsMatch(t, []sentMessage{
		{room: "!updates:example.org", body: "ERROR: dial broker: connection refused"},
		{room: "!room:example.org", body: apology},
	}, hs.messages())
}

func TestBridge_EmptyReplyNotPosted(t *testing.T) {
	hs := newFakeHomeserver(t)
	b := newTestBridge(t, hs, &fakeBroker{}, func(c *Config) { c.Bridge.TypingIndicator = false })

	b.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!room:example.org", "hello"))
	b.wg.Wait()
	assert.Empty(t, hs.messages())
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	hs := newFakeHomeserver(t)
	b := newTestBridge(t, hs, &fakeBroker{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo world", 4))
}
