package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pelusa-v/pelusa-broker/internal/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Broker    BrokerConfig
	Mirror    MirrorConfig
	Log       log.Config
}

type ServerConfig struct {
	Host      string
	Port      int
	StaticDir string `mapstructure:"static_dir"`
}

// Addr returns host:port for fiber's Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// BrokerConfig is the tunable surface of the broker core.
type BrokerConfig struct {
	Rooms           []string
	HistoryLimit    int  `mapstructure:"history_limit"`
	RejectInvalid   bool `mapstructure:"reject_invalid"`
	UniqueUsernames bool `mapstructure:"unique_usernames"`
}

// DefaultRoom is the room a join without a room name lands in.
func (b BrokerConfig) DefaultRoom() string {
	if len(b.Rooms) == 0 {
		return ""
	}
	return b.Rooms[0]
}

// MirrorConfig configures the optional Redis presence mirror.
// An empty RedisAddress disables it.
type MirrorConfig struct {
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Channel       string        `mapstructure:"channel"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func (m MirrorConfig) Enabled() bool {
	return m.RedisAddress != ""
}

var DefaultRooms = []string{"general", "random", "tech", "gaming", "support"}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5000},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 8192,
			SendBuffer:     64,
		},
		Broker: BrokerConfig{
			Rooms:         append([]string(nil), DefaultRooms...),
			HistoryLimit:  100,
			RejectInvalid: true,
		},
		Mirror: MirrorConfig{Channel: "broker:presence", Timeout: 2 * time.Second},
		Log:    log.Config{Level: "info", ServiceName: "pelusa-broker"},
	}
}

// Load reads config.yaml from configPath (if present) and applies
// environment overrides on top of the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("broker.rooms", d.Broker.Rooms)
	v.SetDefault("broker.history_limit", d.Broker.HistoryLimit)
	v.SetDefault("broker.reject_invalid", d.Broker.RejectInvalid)
	v.SetDefault("broker.unique_usernames", d.Broker.UniqueUsernames)
	v.SetDefault("mirror.redis_address", "")
	v.SetDefault("mirror.redis_password", "")
	v.SetDefault("mirror.redis_db", 0)
	v.SetDefault("mirror.channel", d.Mirror.Channel)
	v.SetDefault("mirror.timeout", "2s")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", d.Log.ServiceName)

	_ = v.BindEnv("server.host", "HOST")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("broker.rooms", "BROKER_ROOMS")
	_ = v.BindEnv("broker.history_limit", "BROKER_HISTORY_LIMIT")
	_ = v.BindEnv("mirror.redis_address", "REDIS_ADDRESS")
	_ = v.BindEnv("mirror.redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", d.WebSocket.PingInterval)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", d.WebSocket.PongWait)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", d.WebSocket.WriteWait)
	cfg.Mirror.Timeout = parseDuration(v, "mirror.timeout", d.Mirror.Timeout)
	cfg.Broker.Rooms = splitRooms(cfg.Broker.Rooms)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the broker cannot run without.
func (c *Config) Validate() error {
	if len(c.Broker.Rooms) == 0 {
		return errors.New("config: broker.rooms must name at least one room")
	}
	seen := make(map[string]bool, len(c.Broker.Rooms))
	for _, r := range c.Broker.Rooms {
		if seen[r] {
			return fmt.Errorf("config: duplicate room %q", r)
		}
		seen[r] = true
	}
	if c.Broker.HistoryLimit <= 0 {
		return fmt.Errorf("config: broker.history_limit must be positive, got %d", c.Broker.HistoryLimit)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("config: websocket.send_buffer must be positive, got %d", c.WebSocket.SendBuffer)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	return nil
}

// splitRooms accepts both YAML lists and a comma separated env value.
func splitRooms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, r := range strings.Split(entry, ",") {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
	}
	return out
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
