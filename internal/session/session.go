// ABOUTME: Per-user conversational state: rolling history, privilege mode and beam state
// ABOUTME: Sessions serialize their own turns in arrival order and guard fields with a data lock

package session

import (
	"sync"
	"unicode/utf8"
)

// MaxHistory is the rolling transcript cap, in characters.
const MaxHistory = 1000

// Mode is the externally visible session mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeDebug
	ModeBeam
	ModeGlobalBeam
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDebug:
		return "debug"
	case ModeBeam:
		return "beam"
	case ModeGlobalBeam:
		return "globalbeam"
	default:
		return "unknown"
	}
}

// Beaming reports whether turns in this mode request several candidates.
func (m Mode) Beaming() bool {
	return m == ModeBeam || m == ModeGlobalBeam
}

// beamState is tracked separately from sudo so a GlobalBeam user can still
// enter Debug to switch it off again.
type beamState int

const (
	beamOff beamState = iota
	beamOneShot
	beamGlobal
)

// Session is one user's conversational state. It is owned by a Store; callers
// receive a handle per call and must not keep it beyond the turn.
type Session struct {
	id    string
	store *Store

	turn turnLock

	mu      sync.Mutex
	history string
	sudo    bool
	beam    beamState
}

func newSession(id string, store *Store) *Session {
	return &Session{id: id, store: store}
}

// ID returns the opaque user identifier.
func (s *Session) ID() string {
	return s.id
}

// Lock blocks until every turn that arrived earlier for this user has finished.
func (s *Session) Lock() {
	s.turn.Lock()
}

// Unlock ends the current turn and admits the next waiter.
func (s *Session) Unlock() {
	s.turn.Unlock()
}

// update runs fn with the session's fields locked. The store's shared lock is
// held so whole-store operations never observe a half-applied mutation.
func (s *Session) update(fn func()) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// History returns a copy of the rolling transcript.
func (s *Session) History() string {
	var h string
	s.update(func() { h = s.history })
	return h
}

// AppendHistory appends text and trims the transcript to its last MaxHistory characters.
func (s *Session) AppendHistory(text string) {
	s.update(func() { s.history = trimHistory(s.history + text) })
}

// ClearHistory empties the transcript; the session itself stays registered.
func (s *Session) ClearHistory() {
	s.update(func() { s.history = "" })
}

// Mode derives the four-valued mode from the sudo flag and beam state.
func (s *Session) Mode() Mode {
	var m Mode
	s.update(func() { m = s.modeLocked() })
	return m
}

func (s *Session) modeLocked() Mode {
	switch {
	case s.beam == beamOneShot:
		return ModeBeam
	case s.beam == beamGlobal:
		return ModeGlobalBeam
	case s.sudo:
		return ModeDebug
	default:
		return ModeNormal
	}
}

// Sudo reports whether privileged commands are currently interpreted.
func (s *Session) Sudo() bool {
	var v bool
	s.update(func() { v = s.sudo })
	return v
}

// ToggleSudo flips Debug access and returns the new value.
func (s *Session) ToggleSudo() bool {
	var v bool
	s.update(func() {
		s.sudo = !s.sudo
		v = s.sudo
	})
	return v
}

// BeginOneShotBeam leaves Debug and requests several candidates for the current turn only.
func (s *Session) BeginOneShotBeam() {
	s.update(func() {
		s.sudo = false
		s.beam = beamOneShot
	})
}

// EndOneShotBeam restores Debug after a one-shot beam turn. It reports whether
// a one-shot beam was active.
func (s *Session) EndOneShotBeam() bool {
	var ended bool
	s.update(func() {
		if s.beam != beamOneShot {
			return
		}
		s.beam = beamOff
		s.sudo = true
		ended = true
	})
	return ended
}

// ToggleGlobalBeam switches between persistent beaming and normal replies
// and returns the resulting beam mode (ModeGlobalBeam or ModeNormal).
func (s *Session) ToggleGlobalBeam() Mode {
	var m Mode
	s.update(func() {
		if s.beam == beamGlobal {
			s.beam = beamOff
			m = ModeNormal
			return
		}
		s.beam = beamGlobal
		m = ModeGlobalBeam
	})
	return m
}

// trimHistory keeps the last MaxHistory runes of h.
func trimHistory(h string) string {
	n := utf8.RuneCountInString(h)
	if n <= MaxHistory {
		return h
	}
	drop := n - MaxHistory
	for i := range h {
		if drop == 0 {
			return h[i:]
		}
		drop--
	}
	return ""
}

// turnLock is a FIFO mutex: waiters are admitted strictly in arrival order,
// which sync.Mutex does not promise.
type turnLock struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func (l *turnLock) Lock() {
	l.mu.Lock()
	if !l.busy {
		l.busy = true
		l.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()
	<-ch
}

func (l *turnLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.busy = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
