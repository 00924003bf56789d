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

func writeConfig(t *testing.T, env, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config."+env+".yaml"), []byte(body), 0o600))
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", env)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.EqualValues(t, 10<<20, cfg.MaxFileSize)
	assert.EqualValues(t, 32<<20, cfg.ReadLimit)
	assert.Equal(t, 4096, cfg.MaxTextLength)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.True(t, cfg.PeerDiscovery)
	assert.Equal(t, "kick", cfg.Backpressure)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	writeConfig(t, "test", `
mode: debug
port: 9000
history_limit: 20
backpressure: drop
ice_servers:
  - urls: ["turn:turn.example.org:3478"]
    username: alice
    credential: secret
`)
	t.Setenv("HUDDLE_MAX_TEXT_LENGTH", "100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port, "unchanged flag does not beat the file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 100, cfg.MaxTextLength)
	assert.Equal(t, "drop", cfg.Backpressure)

	servers, err := cfg.WebRTCICEServers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "alice", servers[0].Username)
	assert.Equal(t, "secret", servers[0].Credential)
}

func TestLoad_EnvFlagSelectsFile(t *testing.T) {
	writeConfig(t, "staging", "port: 7000\n")
	t.Setenv("CONFIG_ENV", "other")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("env", "", "")
	require.NoError(t, flags.Parse([]string{"--env=staging"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	writeConfig(t, "bad", "backpressure: explode\n")
	_, err := Load(nil)
	assert.ErrorContains(t, err, "backpressure")

	writeConfig(t, "tight", "max_file_size: 20971520\n")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "read_limit")

	writeConfig(t, "broken", "port: [\n")
	_, err = Load(nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:         8080,
			PongWait:     time.Minute,
			PingPeriod:   50 * time.Second,
			Backpressure: "kick",
			ICEServers:   []ICEServer{{URLs: []string{"stun:stun.example.org"}}},
		}
	}
	ok := base()
	require.NoError(t, ok.Validate())
	ok.MaxFileSize, ok.ReadLimit = 10<<20, 20<<20
	require.NoError(t, ok.Validate(), "exactly twice the file limit")
	ok.ReadLimit = 0
	require.NoError(t, ok.Validate(), "no read limit")

	cases := map[string]func(*Config){
		"port":                               func(c *Config) { c.Port = 0 },
		"ping >= pong":                       func(c *Config) { c.PingPeriod = c.PongWait },
		"negative":                           func(c *Config) { c.MaxFileSize = -1 },
		"read limit":                         func(c *Config) { c.ReadLimit = -1 },
		"no headroom":                        func(c *Config) { c.MaxFileSize, c.ReadLimit = 10<<20, 16<<20 },
		"unbounded file behind a read limit": func(c *Config) { c.MaxFileSize, c.ReadLimit = 0, 16<<20 },
		"policy":                             func(c *Config) { c.Backpressure = "panic" },
		"ice scheme":                         func(c *Config) { c.ICEServers[0].URLs = []string{"http://x"} },
		"ice empty":                          func(c *Config) { c.ICEServers[0].URLs = []string{"  "} },
		"turn creds":                         func(c *Config) { c.ICEServers[0].URLs = []string{"turn:x"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
