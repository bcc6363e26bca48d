package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("cast", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	cfg, err := Load(fs)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := load(t)

	assert.Equal(t, Role(""), cfg.Role)
	assert.Equal(t, "ws://localhost:8080", cfg.RelayURL)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Empty(t, cfg.ICEServers)
	assert.Equal(t, int64(64<<10), cfg.ReadLimit)
	assert.Equal(t, 25*time.Second, cfg.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, 10*time.Second, cfg.WriteWait)
	assert.Equal(t, 64, cfg.MaxPendingCandidates)
	assert.Equal(t, 30*time.Second, cfg.StatsInterval)
	assert.False(t, cfg.Debug)
}

func TestFlags(t *testing.T) {
	cfg := load(t,
		"--role", "send",
		"--room", "r1",
		"--media-file", "clip.ivf",
		"--ice-server", "stun:a:3478",
		"--ice-server", "stun:b:3478",
		"--ping-period", "5s",
		"--debug",
	)

	assert.Equal(t, RoleSend, cfg.Role)
	assert.Equal(t, "r1", cfg.Room)
	assert.Equal(t, "clip.ivf", cfg.MediaFile)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, cfg.ICEServers)
	assert.Equal(t, 5*time.Second, cfg.PingPeriod)
	assert.True(t, cfg.Debug)
	assert.NoError(t, cfg.Validate())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("CAST_ROLE", "receive")
	t.Setenv("CAST_ROOM", "from-env")
	t.Setenv("CAST_MAX_PENDING_CANDIDATES", "8")

	cfg := load(t)
	assert.Equal(t, RoleReceive, cfg.Role)
	assert.Equal(t, "from-env", cfg.Room)
	assert.Equal(t, 8, cfg.MaxPendingCandidates)

	// An explicit flag wins over the environment.
	cfg = load(t, "--room", "from-flag")
	assert.Equal(t, "from-flag", cfg.Room)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
role: relay
listen: 127.0.0.1:9000
pong_wait: 90s
ice_servers:
  - stun:file:3478
`), 0o644))

	cfg := load(t, "--config", path)
	assert.Equal(t, RoleRelay, cfg.Role)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 90*time.Second, cfg.PongWait)
	assert.Equal(t, []string{"stun:file:3478"}, cfg.ICEServers)
	assert.NoError(t, cfg.Validate())
}

func TestMissingConfigFile(t *testing.T) {
	fs := pflag.NewFlagSet("cast", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}))

	_, err := Load(fs)
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Role:       RoleReceive,
			RelayURL:   "ws://relay",
			Room:       "r",
			Listen:     ":8080",
			ReadLimit:  1024,
			PingPeriod: time.Second,
			PongWait:   2 * time.Second,
		}
	}

	testCases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"receive ok", func(c *Config) {}, ""},
		{"relay ok", func(c *Config) { c.Role = RoleRelay; c.Room = "" }, ""},
		{"unknown role", func(c *Config) { c.Role = "watch" }, `unknown role "watch"`},
		{"send without media", func(c *Config) { c.Role = RoleSend }, "media_file"},
		{"missing room", func(c *Config) { c.Room = "" }, "room is required"},
		{"missing relay", func(c *Config) { c.RelayURL = "" }, "relay_url is required"},
		{"relay without listen", func(c *Config) { c.Role = RoleRelay; c.Listen = "" }, "listen"},
		{"ping not below pong", func(c *Config) { c.PingPeriod = c.PongWait }, "ping_period"},
		{"bad read limit", func(c *Config) { c.ReadLimit = 0 }, "read_limit"},
		{"negative pending", func(c *Config) { c.MaxPendingCandidates = -1 }, "max_pending_candidates"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.want)
		})
	}
}
