package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "nope")
	t.Setenv("MEET_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "ws://localhost:4443/ws", cfg.ServerURL)
	assert.Equal(t, "attendee", cfg.Role)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Empty(t, cfg.Token)
}

func TestLoadReadsEnvSpecificFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `mode: debug
http_port: 9090
server_url: ws://sfu.example.com/ws
display_name: alice
room_id: standup
microphone_device: mic-usb
dial_timeout: 3s
ice_servers:
  - stun:stun.example.com:3478
  - turn:turn.example.com:3478
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))

	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("MEET_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "ws://sfu.example.com/ws", cfg.ServerURL)
	assert.Equal(t, "alice", cfg.DisplayName)
	assert.Equal(t, "standup", cfg.RoomID)
	assert.Equal(t, "mic-usb", cfg.MicDevice)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
	assert.Len(t, cfg.ICEServers, 2)
}

func TestTokenComesFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "nope")
	t.Setenv("MEET_TOKEN", "tok-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-secret", cfg.Token)
}
