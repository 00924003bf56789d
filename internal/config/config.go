package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`
	StaticPath string `mapstructure:"static_path"`
	PublicURL  string `mapstructure:"public_url"`
	Secret     string `mapstructure:"secret"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`

	HistoryLimit  int    `mapstructure:"history_limit"`
	MaxFileSize   int64  `mapstructure:"max_file_size"`
	MaxTextLength int    `mapstructure:"max_text_length"`
	PeerDiscovery bool   `mapstructure:"peer_discovery"`
	Backpressure  string `mapstructure:"backpressure"`

	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

// ReadLimitHeadroom is the minimum ratio of read_limit to max_file_size.
const ReadLimitHeadroom = 2

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("public_url", "")
	v.SetDefault("secret", "huddle-dev-secret")
	v.SetDefault("read_limit", 32<<20)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("history_limit", 500)
	v.SetDefault("max_file_size", 10<<20)
	v.SetDefault("max_text_length", 4096)
	v.SetDefault("peer_discovery", true)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_window", "10s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// Load reads $CONFIG_DIR/config.<env>.yaml (default dir "config"), HUDDLE_*
// environment variables and any flags bound from the command line, in
// increasing priority.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	env := os.Getenv("CONFIG_ENV")
	if flags != nil {
		if f := flags.Lookup("env"); f != nil && f.Changed {
			env = f.Value.String()
		}
	}
	if env == "" {
		env = "dev"
	}
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	fileName := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{"port": "port", "log_level": "log-level"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.PongWait <= 0 {
		return errors.New("config: pong_wait must be positive")
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("config: ping_period %s must be shorter than pong_wait %s", c.PingPeriod, c.PongWait)
	}
	if c.MaxFileSize < 0 || c.MaxTextLength < 0 || c.HistoryLimit < 0 || c.ReadLimit < 0 {
		return errors.New("config: limits must not be negative")
	}
	// A frame above read_limit closes the socket instead of earning a
	// file_too_large error, and file content travels base64 encoded inside
	// a JSON envelope.
	if c.ReadLimit > 0 {
		if c.MaxFileSize == 0 {
			return fmt.Errorf("config: max_file_size must be set when read_limit is %d", c.ReadLimit)
		}
		if c.ReadLimit < ReadLimitHeadroom*c.MaxFileSize {
			return fmt.Errorf("config: read_limit %d must be at least %dx max_file_size %d", c.ReadLimit, ReadLimitHeadroom, c.MaxFileSize)
		}
	}
	switch strings.ToLower(c.Backpressure) {
	case "", "kick", "drop":
	default:
		return fmt.Errorf("config: unknown backpressure policy %q", c.Backpressure)
	}
	if _, err := c.WebRTCICEServers(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// WebRTCICEServers converts the configured servers for clients building an
// RTCPeerConnection. TURN urls must carry credentials.
func (c *Config) WebRTCICEServers() ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for i, s := range c.ICEServers {
		srv := webrtc.ICEServer{
			URLs:     make([]string, 0, len(s.URLs)),
			Username: strings.TrimSpace(s.Username),
		}
		for _, u := range s.URLs {
			if u = strings.TrimSpace(u); u != "" {
				srv.URLs = append(srv.URLs, u)
			}
		}
		if strings.TrimSpace(s.Credential) != "" {
			srv.Credential = s.Credential
		}
		if err := validateICEServer(srv); err != nil {
			return nil, fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
		out = append(out, srv)
	}
	return out, nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	requiresTurnCreds := false
	for _, url := range server.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			requiresTurnCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	if requiresTurnCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
