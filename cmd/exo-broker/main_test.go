// ABOUTME: Tests for exo-broker command helpers: config paths, init, send, logging
// ABOUTME: Commands run in-process with a throwaway frame listener where needed

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casuallyexisting/exo/internal/chatlog"
	"github.com/casuallyexisting/exo/internal/config"
	"github.com/casuallyexisting/exo/internal/wire"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("EXO_CONFIG", "/etc/exo/custom.yaml")
	assert.Equal(t, "/etc/exo/custom.yaml", getConfigPath())

	t.Setenv("EXO_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "exo", "broker.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "exo"), getDataPath())
}

func TestRunInit_DefaultsProduceValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exo", "broker.yaml")

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(""), &out, path, dir))
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:25077", cfg.Server.Addr)
	assert.Equal(t, "Player", cfg.Persona.Player)
	assert.Equal(t, []string{"Player", "Exo"}, cfg.Persona.Roster)
	assert.Equal(t, "ollama", cfg.Generation.Backend)
	assert.False(t, cfg.ChatLog.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestRunInit_CustomAnswers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")

	answers := strings.Join([]string{
		"",                // config path
		"0.0.0.0:9000",    // frame addr
		"",                // http addr
		"Tom",             // player
		"Tom, Ann, Bea",   // roster
		"MATRIX-@op:x, u", // sudoers
		"echo",            // backend
		"y",               // chat log
		"",                // chat log path
		"n",               // tailscale
		"debug",           // level
		"json",            // format
	}, "\n") + "\n"

	require.NoError(t, runInit(strings.NewReader(answers), io.Discard, path, dir))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"Tom", "Ann", "Bea"}, cfg.Persona.Roster)
	assert.True(t, cfg.IsSudoer("MATRIX-@op:x"))
	assert.True(t, cfg.IsOperator("u"))
	assert.Equal(t, "echo", cfg.Generation.Backend)
	assert.True(t, cfg.ChatLog.Enabled)
	assert.Equal(t, filepath.Join(dir, "chatlog.db"), cfg.ChatLog.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader("\nno\n"), &out, path, t.TempDir()))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

// serveOnce answers the next frame with a fixed reply.
func serveOnce(t *testing.T, reply string) (addr string, got <-chan wire.Frame) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	frames := make(chan wire.Frame, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		if f, err := wire.Decode(data); err == nil {
			frames <- f
		}
		_, _ = conn.Write([]byte(reply))
	}()
	return ln.Addr().String(), frames
}

func TestSendCmd(t *testing.T) {
	addr, frames := serveOnce(t, "Exo: hello back")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"send", "--addr", addr, "--as", "tester", "hello", "there"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Equal(t, "Exo: hello back\n", out.String())
	f := <-frames
	assert.Equal(t, "tester", f.Sender)
	assert.Equal(t, "hello there", f.Text)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &colorHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo}
	logger := slog.New(h).With("component", "broker").WithGroup("turn")

	logger.Debug("hidden")
	logger.Info("turn complete", "user_id", "u1")

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "turn complete")
	assert.Contains(t, line, "component=broker")
	assert.Contains(t, line, "turn.user_id=u1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestPrintEvents(t *testing.T) {
	var buf bytes.Buffer
	printEvents(&buf, []chatlog.Event{
		{UserID: "u1", Direction: chatlog.DirectionInbound, Kind: chatlog.KindMessage, Speaker: "Player", Text: "hi", Timestamp: time.Now()},
		{UserID: "u1", Direction: chatlog.DirectionOutbound, Kind: chatlog.KindNoResponse, Text: "No response :(", Timestamp: time.Now()},
	})
	out := buf.String()
	assert.Contains(t, out, "> Player: hi")
	assert.Contains(t, out, "< no_response: No response :(")
}
