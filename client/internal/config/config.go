package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	API           APIConfig          `yaml:"api"`
	Notifications NotificationConfig `yaml:"notifications"`
	Mutations     MutationConfig     `yaml:"mutations"`
	Session       SessionConfig      `yaml:"session"`
	Bus           BusConfig          `yaml:"bus"`
	Logging       LoggingConfig      `yaml:"logging"`
	DevServer     DevServerConfig    `yaml:"devserver"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// AccessToken 仅用于 CLI / 本地调试，正式环境由 session store 提供
	AccessToken string `yaml:"access_token"`
}

type NotificationConfig struct {
	// Transport 决定通知通道实现：sse | ws
	Transport            string        `yaml:"transport"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

type MutationConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	LaneCapacity  int           `yaml:"lane_capacity"`
	LaneIdleAfter time.Duration `yaml:"lane_idle_after"`
}

type SessionConfig struct {
	// Store: memory | redis
	Store string        `yaml:"store"`
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BusConfig struct {
	// Kind: local | nats
	Kind          string   `yaml:"kind"`
	NATSServers   []string `yaml:"nats_servers"`
	SubjectPrefix string   `yaml:"subject_prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DevServerConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	SeedPath  string        `yaml:"seed_path"`
}

// Default 返回本地开发可直接使用的配置。
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:3333",
			Timeout: 15 * time.Second,
		},
		Notifications: NotificationConfig{
			Transport:            "sse",
			BaseDelay:            time.Second,
			MaxReconnectAttempts: 5,
		},
		Mutations: MutationConfig{
			Timeout:       30 * time.Second,
			LaneCapacity:  32,
			LaneIdleAfter: 30 * time.Second,
		},
		Session: SessionConfig{
			Store: "memory",
			TTL:   7 * 24 * time.Hour,
			Redis: RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "inkgora:session:"},
		},
		Bus: BusConfig{
			Kind:          "local",
			SubjectPrefix: "inkgora",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		DevServer: DevServerConfig{
			Addr:      ":3333",
			JWTSecret: "inkgora-dev-secret",
			TokenTTL:  24 * time.Hour,
		},
	}
}

// Load 从文件加载配置；path 为空时只使用默认值与环境变量。
// 文件中未出现的字段保留默认值。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "validate config")
	}
	return cfg, nil
}

// 从环境变量覆盖敏感信息与部署相关地址
func applyEnv(cfg *Config) {
	if v := os.Getenv("INKGORA_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("INKGORA_ACCESS_TOKEN"); v != "" {
		cfg.API.AccessToken = v
	}
	if v := os.Getenv("INKGORA_REDIS_ADDR"); v != "" {
		cfg.Session.Redis.Addr = v
	}
	if v := os.Getenv("INKGORA_NATS_URL"); v != "" {
		cfg.Bus.NATSServers = strings.Split(v, ",")
	}
	if v := os.Getenv("INKGORA_JWT_SECRET"); v != "" {
		cfg.DevServer.JWTSecret = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required (set INKGORA_API_URL or config)")
	}
	switch c.Notifications.Transport {
	case "sse", "ws":
	default:
		return errors.Errorf("unsupported notifications.transport: %q", c.Notifications.Transport)
	}
	if c.Notifications.BaseDelay <= 0 {
		return errors.New("notifications.base_delay must be positive")
	}
	if c.Notifications.MaxReconnectAttempts <= 0 {
		return errors.New("notifications.max_reconnect_attempts must be positive")
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return errors.Errorf("unsupported session.store: %q", c.Session.Store)
	}
	switch c.Bus.Kind {
	case "local":
	case "nats":
		if len(c.Bus.NATSServers) == 0 {
			return errors.New("bus.nats_servers is required when bus.kind is nats")
		}
	default:
		return errors.Errorf("unsupported bus.kind: %q", c.Bus.Kind)
	}
	return nil
}
