// ABOUTME: Matrix notifier posting operator notifications to an updates room
// ABOUTME: Uses a mautrix client authenticated with an access token

package notify

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig identifies the account and room to post to.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// Matrix posts notifications as plain text messages.
type Matrix struct {
	client *mautrix.Client
	roomID id.RoomID
	logger *slog.Logger
}

// NewMatrix creates a Matrix notifier. No network traffic happens until the
// first notification.
func NewMatrix(cfg MatrixConfig, logger *slog.Logger) (*Matrix, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("matrix room id is required")
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Matrix{
		client: client,
		roomID: id.RoomID(cfg.RoomID),
		logger: logger.With("component", "notify.matrix"),
	}, nil
}

// Notify implements Notifier.
func (m *Matrix) Notify(ctx context.Context, text string) error {
	if _, err := m.client.SendText(ctx, m.roomID, text); err != nil {
		m.logger.Error("failed to post notification", "room_id", m.roomID, "error", err)
		return fmt.Errorf("sending matrix notification: %w", err)
	}
	m.logger.Debug("posted notification", "room_id", m.roomID)
	return nil
}
