// ABOUTME: Tests for exo-matrix TOML config loading and validation

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@exo:example.org"
access_token = "${EXO_TEST_TOKEN}"

[broker]
addr = "10.0.0.5:25077"
timeout = "45s"

[bridge]
allowed_rooms = ["!a:example.org"]
updates_room = "!updates:example.org"
`

func TestParse_ValidConfig(t *testing.T) {
	t.Setenv("EXO_TEST_TOKEN", "syt_secret")

	cfg, err := Parse(validTOML)
	require.NoError(t, err)

	assert.Equal(t, "syt_secret", cfg.Matrix.AccessToken)
	assert.Equal(t, "10.0.0.5:25077", cfg.Broker.Addr)
	assert.Equal(t, 45*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, "MATRIX-", cfg.Broker.SenderPrefix, "default kept")
	assert.Equal(t, "!!", cfg.Bridge.IgnorePrefix, "default kept")
	assert.True(t, cfg.Bridge.TypingIndicator)
	assert.Equal(t, []string{"!a:example.org"}, cfg.Bridge.AllowedRooms)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{"missing homeserver", `[matrix]
user_id = "@a:b"
access_token = "t"`, "matrix.homeserver is required"},
		{"bad scheme", `[matrix]
homeserver = "ftp://x"
user_id = "@a:b"
access_token = "t"`, "http or https"},
		{"missing token", `[matrix]
homeserver = "https://x"
user_id = "@a:b"`, "matrix.access_token is required"},
		{"encryption without device", `[matrix]
homeserver = "https://x"
user_id = "@a:b"
access_token = "t"
encryption = true`, "matrix.device_id is required"},
		{"bad timeout", `[matrix]
homeserver = "https://x"
user_id = "@a:b"
access_token = "t"
[broker]
timeout = "soon"`, "parsing broker.timeout"},
		{"not toml", `this is = = not toml`, "parsing config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.toml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("EXO_TEST_TOKEN", "tok")
	path := filepath.Join(t.TempDir(), "matrix.toml")
	require.NoError(t, os.WriteFile(path, []byte(validTOML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "@exo:example.org", cfg.Matrix.UserID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("EXO_MATRIX_CONFIG", "/tmp/m.toml")
	assert.Equal(t, "/tmp/m.toml", getConfigPath())

	t.Setenv("EXO_MATRIX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "exo", "matrix.toml"), getConfigPath())
}

func TestSlugifyAndStoreKey(t *testing.T) {
	assert.Equal(t, "exo_matrix.org", slugify("@exo:matrix.org"))
	assert.Len(t, deriveStoreKey("@exo:matrix.org"), 32)
	assert.NotEqual(t, deriveStoreKey("@a:x"), deriveStoreKey("@b:x"))
}

func TestCheckDeviceIDMismatch_NoDatabase(t *testing.T) {
	reset, err := checkDeviceIDMismatch(filepath.Join(t.TempDir(), "none.db"), "DEV")
	require.NoError(t, err)
	assert.False(t, reset)
}
