// ABOUTME: SQLite chat log built on modernc.org/sqlite
// ABOUTME: One append-only table of events, created on open

package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// timeFormat is fixed width so stored timestamps sort lexically.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteLog persists chat log events.
type SQLiteLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// ListParams filters List results.
type ListParams struct {
	// UserID restricts results to one user when set.
	UserID string
	Since  *time.Time
	// Limit is 1-500, defaults to 50.
	Limit int
}

// NewSQLite opens (or creates) the chat log at path.
// Parent directories are created if needed.
func NewSQLite(path string, logger *slog.Logger) (*SQLiteLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chatlog")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating chat log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening chat log: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &SQLiteLog{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("chat log initialized", "path", path)
	return l, nil
}

func (l *SQLiteLog) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_events (
			event_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			kind TEXT NOT NULL,
			speaker TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound'))
		);

		CREATE INDEX IF NOT EXISTS idx_chat_events_user_ts
			ON chat_events(user_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_chat_events_ts
			ON chat_events(timestamp);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record implements Sink. Missing IDs and timestamps are filled in.
func (l *SQLiteLog) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO chat_events (event_id, user_id, direction, kind, speaker, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		string(event.Direction),
		string(event.Kind),
		event.Speaker,
		event.Text,
		event.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting chat event: %w", err)
	}

	l.logger.Debug("recorded chat event",
		"event_id", event.ID,
		"user_id", event.UserID,
		"kind", event.Kind,
	)
	return nil
}

// List returns the most recent events matching p, oldest first.
func (l *SQLiteLog) List(ctx context.Context, p ListParams) ([]Event, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT event_id, user_id, direction, kind, speaker, text, timestamp
		FROM chat_events
		WHERE 1=1
	`
	var args []any
	if p.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, p.UserID)
	}
	if p.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, p.Since.UTC().Format(timeFormat))
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var direction, kind, ts string
		if err := rows.Scan(&e.ID, &e.UserID, &direction, &kind, &e.Speaker, &e.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning chat event: %w", err)
		}
		e.Direction = Direction(direction)
		e.Kind = Kind(kind)
		e.Timestamp, err = time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat events: %w", err)
	}
	slices.Reverse(events)
	return events, nil
}

// Ping checks the database connection.
func (l *SQLiteLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close implements Sink.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
