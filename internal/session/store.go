// ABOUTME: SessionStore owns every Session and the process-wide flags
// ABOUTME: Whole-store operations take the exclusive lock so they never race per-session mutation

package session

import (
	"log/slog"
	"sort"
	"sync"
)

// Status is a read-only view of one session, used by operator inspection commands.
type Status struct {
	UserID  string
	Mode    Mode
	History string
}

// Store maps user identifiers to sessions. Entries are created lazily and are
// never removed, so memory grows with the number of distinct users seen.
type Store struct {
	// mu is held shared by every per-session mutation and exclusively by
	// whole-store operations.
	mu       sync.RWMutex
	sessions map[string]*Session

	chatLogging bool

	logger *slog.Logger
}

// NewStore creates an empty store. chatLogging is the initial value of the
// global chat logging flag.
func NewStore(chatLogging bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*Session),
		chatLogging: chatLogging,
		logger:      logger.With("component", "sessions"),
	}
}

// GetOrCreate returns the session for userID, creating it in Normal mode with
// an empty history on first contact.
func (s *Store) GetOrCreate(userID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess = newSession(userID, s)
	s.sessions[userID] = sess
	s.logger.Info("new chat started", "user_id", userID, "total_sessions", len(s.sessions))
	return sess
}

// Lookup returns the session for userID without creating it.
func (s *Store) Lookup(userID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// ResetOne clears the history of a single user. Unknown users are ignored.
func (s *Store) ResetOne(userID string) {
	if sess, ok := s.Lookup(userID); ok {
		sess.ClearHistory()
	}
}

// ResetAll clears every session's history atomically with respect to
// concurrent per-session updates.
func (s *Store) ResetAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		sess.mu.Lock()
		sess.history = ""
		sess.mu.Unlock()
	}
	s.logger.Info("all chat histories cleared", "sessions", len(s.sessions))
	return len(s.sessions)
}

// Snapshot returns a consistent view of every session, ordered by user id.
func (s *Store) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sess.mu.Lock()
		out = append(out, Status{UserID: id, Mode: sess.modeLocked(), History: sess.history})
		sess.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of known sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ChatLogging reports whether exchanges are written to the chat log.
func (s *Store) ChatLogging() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatLogging
}

// ToggleChatLogging flips the chat logging flag and returns the new value.
func (s *Store) ToggleChatLogging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLogging = !s.chatLogging
	s.logger.Info("chat logging toggled", "enabled", s.chatLogging)
	return s.chatLogging
}
