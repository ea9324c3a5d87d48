// ABOUTME: Tests for the session store and per-session state transitions
// ABOUTME: Covers lazy creation, history trimming, resets, snapshots, modes and FIFO turn locking

package session

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetOrCreate(t *testing.T) {
	store := NewStore(true, nil)

	sess := store.GetOrCreate("user-1")
	require.NotNil(t, sess)
	assert.Equal(t, "user-1", sess.ID())
	assert.Equal(t, ModeNormal, sess.Mode())
	assert.Empty(t, sess.History())

	assert.Same(t, sess, store.GetOrCreate("user-1"), "second lookup returns the same session")
	assert.Equal(t, 1, store.Len())
}

func TestStore_Lookup_Unknown(t *testing.T) {
	store := NewStore(true, nil)

	_, ok := store.Lookup("nobody")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len(), "lookup never creates")
}

func TestSession_AppendHistory_Trims(t *testing.T) {
	store := NewStore(true, nil)
	sess := store.GetOrCreate("user-1")

	for i := 0; i < 50; i++ {
		sess.AppendHistory(strings.Repeat("x", 39) + "\n")
		assert.LessOrEqual(t, utf8.RuneCountInString(sess.History()), MaxHistory)
	}

	sess.AppendHistory("tail")
	h := sess.History()
	assert.Equal(t, MaxHistory, utf8.RuneCountInString(h))
	assert.True(t, strings.HasSuffix(h, "tail"), "oldest content is dropped from the front")
}

func TestTrimHistory_MultiByte(t *testing.T) {
	h := strings.Repeat("é", MaxHistory+5)
	trimmed := trimHistory(h)
	assert.Equal(t, MaxHistory, utf8.RuneCountInString(trimmed))
	assert.True(t, utf8.ValidString(trimmed))
}

func TestStore_ResetOne(t *testing.T) {
	store := NewStore(true, nil)
	a := store.GetOrCreate("a")
	b := store.GetOrCreate("b")
	a.AppendHistory("Exo: hi\n")
	b.AppendHistory("Exo: hello\n")

	store.ResetOne("a")
	store.ResetOne("unknown")

	assert.Empty(t, a.History())
	assert.Equal(t, "Exo: hello\n", b.History())
	assert.Equal(t, 2, store.Len(), "reset keeps the entry")
}

func TestStore_ResetAll(t *testing.T) {
	store := NewStore(true, nil)
	for _, id := range []string{"a", "b", "c"} {
		store.GetOrCreate(id).AppendHistory("Exo: hi\n")
	}

	n := store.ResetAll()
	assert.Equal(t, 3, n)
	for _, st := range store.Snapshot() {
		assert.Empty(t, st.History, st.UserID)
	}
	assert.Equal(t, 3, store.Len())
}

func TestStore_Snapshot_Sorted(t *testing.T) {
	store := NewStore(true, nil)
	store.GetOrCreate("zed")
	store.GetOrCreate("amy").ToggleSudo()
	store.GetOrCreate("max").AppendHistory("Exo: yo\n")

	snap := store.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "amy", snap[0].UserID)
	assert.Equal(t, ModeDebug, snap[0].Mode)
	assert.Equal(t, "max", snap[1].UserID)
	assert.Equal(t, "Exo: yo\n", snap[1].History)
	assert.Equal(t, "zed", snap[2].UserID)
}

func TestStore_ChatLoggingToggle(t *testing.T) {
	store := NewStore(true, nil)
	assert.True(t, store.ChatLogging())
	assert.False(t, store.ToggleChatLogging())
	assert.False(t, store.ChatLogging())
	assert.True(t, store.ToggleChatLogging())
}

func TestSession_ModeTransitions(t *testing.T) {
	store := NewStore(true, nil)
	sess := store.GetOrCreate("u")

	assert.True(t, sess.ToggleSudo())
	assert.Equal(t, ModeDebug, sess.Mode())

	sess.BeginOneShotBeam()
	assert.Equal(t, ModeBeam, sess.Mode())
	assert.False(t, sess.Sudo(), "one-shot beam leaves debug")

	assert.True(t, sess.EndOneShotBeam())
	assert.Equal(t, ModeDebug, sess.Mode())
	assert.False(t, sess.EndOneShotBeam(), "nothing to end twice")

	assert.Equal(t, ModeGlobalBeam, sess.ToggleGlobalBeam())
	assert.Equal(t, ModeGlobalBeam, sess.Mode())
	assert.True(t, sess.Sudo(), "global beam keeps debug access")
	assert.Equal(t, ModeNormal, sess.ToggleGlobalBeam())
	assert.Equal(t, ModeDebug, sess.Mode())

	assert.False(t, sess.ToggleSudo())
	assert.Equal(t, ModeNormal, sess.Mode())
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "normal", ModeNormal.String())
	assert.Equal(t, "debug", ModeDebug.String())
	assert.Equal(t, "beam", ModeBeam.String())
	assert.Equal(t, "globalbeam", ModeGlobalBeam.String())
	assert.True(t, ModeBeam.Beaming())
	assert.True(t, ModeGlobalBeam.Beaming())
	assert.False(t, ModeDebug.Beaming())
}

func TestSession_TurnLock_FIFO(t *testing.T) {
	store := NewStore(true, nil)
	sess := store.GetOrCreate("u")

	sess.Lock()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess.Lock()
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			sess.Unlock()
		}(i)
		// Stagger arrivals so the queue order is known.
		require.Eventually(t, func() bool {
			sess.turn.mu.Lock()
			defer sess.turn.mu.Unlock()
			return len(sess.turn.waiters) == i+1
		}, time.Second, time.Millisecond)
	}

	sess.Unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(true, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			store.GetOrCreate("shared").AppendHistory("Exo: line\n")
		}()
		go func() {
			defer wg.Done()
			store.ResetAll()
		}()
		go func() {
			defer wg.Done()
			_ = store.Snapshot()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, utf8.RuneCountInString(store.GetOrCreate("shared").History()), MaxHistory)
}
