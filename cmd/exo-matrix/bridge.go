// ABOUTME: Matrix adapter core: forwards room messages to the broker and posts replies
// ABOUTME: Each message is one frame exchange; failures are reported to an updates room

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/casuallyexisting/exo/internal/notify"
	"github.com/casuallyexisting/exo/internal/wire"
)

// apology is posted to the room when the broker cannot be reached.
const apology = "An error occurred. Please try again later."

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// BrokerClient sends one message and returns the reply. *wire.Client satisfies it.
type BrokerClient interface {
	Send(ctx context.Context, sender, text string) (string, error)
}

// Bridge connects Matrix rooms to the broker.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	broker  BrokerClient
	updates notify.Notifier
	logger  *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a Matrix bridge. broker may be nil to use the wire
// client configured by cfg.Broker.
func NewBridge(cfg *Config, broker BrokerClient, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.DeviceID = id.DeviceID(cfg.Matrix.DeviceID)

	if broker == nil {
		wc := wire.NewClient(cfg.Broker.Addr)
		wc.Timeout = cfg.Broker.Timeout
		broker = wc
	}

	var updates notify.Notifier = notify.NewLog(logger)
	if cfg.Bridge.UpdatesRoom != "" {
		mx, err := notify.NewMatrix(notify.MatrixConfig{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			RoomID:      cfg.Bridge.UpdatesRoom,
		}, logger)
		if err != nil {
			return nil, err
		}
		updates = mx
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config:  cfg,
		matrix:  client,
		broker:  broker,
		updates: updates,
		logger:  logger.With("component", "matrix"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Run syncs with the homeserver until ctx is canceled, then waits for
// in-flight messages.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.config.Matrix.UserID,
		"broker", b.config.Broker.Addr,
	)
	defer b.wg.Wait()
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent filters incoming Matrix messages and forwards the rest.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.config.Matrix.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body := content.Body
	if body == "" {
		return
	}
	if p := b.config.Bridge.IgnorePrefix; p != "" && strings.HasPrefix(body, p) {
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", truncate(body, 50),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(b.ctx, evt.RoomID, evt.Sender, body)
	}()
}

// processMessage runs one broker exchange and posts the reply.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, body string) {
	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	reply, err := b.broker.Send(ctx, b.config.Broker.SenderPrefix+sender.String(), body)
	if err != nil && ctx.Err() != nil {
		b.logger.Info("dropping message on shutdown", "room", roomID.String())
		return
	}
	if err != nil {
		b.logger.Error("broker request failed", "room", roomID.String(), "error", err)
		if nerr := b.updates.Notify(ctx, notify.Prefix+err.Error()); nerr != nil {
			b.logger.Warn("failed to post update", "error", nerr)
		}
		b.sendMessage(roomID, apology)
		return
	}

	if reply == "" {
		b.logger.Warn("empty reply from broker", "room", roomID.String())
		return
	}
	b.sendMessage(roomID, reply)
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.config.Bridge.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMessage sends a text message to a room.
func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.matrix.SendText(ctx, roomID, text); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
