// ABOUTME: Tests for notifiers and the throttle
// ABOUTME: The Matrix notifier is pointed at an httptest homeserver

package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recorder) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestThrottle_SuppressesRepeats(t *testing.T) {
	rec := &recorder{}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	th := newThrottle(rec, time.Minute, clock.Now)
	ctx := context.Background()

	require.NoError(t, th.Notify(ctx, "ERROR: boom"))
	require.NoError(t, th.Notify(ctx, "ERROR: boom"))
	require.NoError(t, th.Notify(ctx, "ERROR: other"))
	assert.Equal(t, []string{"ERROR: boom", "ERROR: other"}, rec.got())

	clock.Advance(2 * time.Minute)
	require.NoError(t, th.Notify(ctx, "ERROR: boom"))
	assert.Equal(t, []string{"ERROR: boom", "ERROR: other", "ERROR: boom"}, rec.got())
}

func TestThrottle_Disabled(t *testing.T) {
	rec := &recorder{}
	th := NewThrottle(rec, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, th.Notify(context.Background(), "same"))
	}
	assert.Len(t, rec.got(), 3)
}

func TestSeenCache_EvictsOldest(t *testing.T) {
	c := newSeenCache(time.Hour, 2, nil)

	assert.False(t, c.checkAndMark("a"))
	assert.False(t, c.checkAndMark("b"))
	assert.False(t, c.checkAndMark("c"))
	assert.Equal(t, 2, c.len())

	assert.False(t, c.checkAndMark("a"), "a was evicted")
	assert.True(t, c.checkAndMark("c"))
}

func TestMulti(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("down")}

	err := Multi{failing, ok}.Notify(context.Background(), "hi")
	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{"hi"}, ok.got(), "later notifiers still run")
}

func TestLog_Notify(t *testing.T) {
	assert.NoError(t, NewLog(nil).Notify(context.Background(), "ERROR: x"))
}

func TestMatrix_Notify(t *testing.T) {
	var mu sync.Mutex
	var path, body, auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body, auth = r.URL.Path, string(data), r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt1"}`))
	}))
	defer srv.Close()

	m, err := NewMatrix(MatrixConfig{
		Homeserver:  srv.URL,
		UserID:      "@exo:example.org",
		AccessToken: "secret",
		RoomID:      "!updates:example.org",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Notify(context.Background(), "ERROR: boom"))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.Contains(path, "/rooms/!updates:example.org/send/m.room.message/"), path)
	assert.Contains(t, body, `"body":"ERROR: boom"`)
	assert.Equal(t, "Bearer secret", auth)
}

func TestNewMatrix_RequiresRoom(t *testing.T) {
	_, err := NewMatrix(MatrixConfig{Homeserver: "https://example.org"}, nil)
	assert.Error(t, err)
}
