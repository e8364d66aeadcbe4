package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram Telegram `yaml:"telegram"`
	Server   Server   `yaml:"server"`
	Download Download `yaml:"download"`
	Cache    Cache    `yaml:"cache"`
	Mirrors  Mirrors  `yaml:"mirrors"`
}

// Telegram holds bot API configuration.
type Telegram struct {
	Token string `yaml:"token" envconfig:"TELEGRAM_TOKEN"`
	// CaptionLimit is the host platform's caption ceiling.
	CaptionLimit int `yaml:"caption_limit" envconfig:"TELEGRAM_CAPTION_LIMIT" default:"1024"`
	// MediaGroupLimit is the host platform's media-group size ceiling.
	MediaGroupLimit int `yaml:"media_group_limit" envconfig:"TELEGRAM_MEDIA_GROUP_LIMIT" default:"10"`
}

// Server holds the ops HTTP server configuration.
type Server struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9864"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"1m"`
}

// Download holds media download configuration.
type Download struct {
	Timeout     time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"2m"`
	Parallelism int           `yaml:"parallelism" envconfig:"DOWNLOAD_PARALLELISM" default:"12"`
	TempPath    string        `yaml:"temp_path" envconfig:"DOWNLOAD_TEMP_PATH" default:"/tmp/linkpost"`
	UserAgent   string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	// MaxImageBytes is the byte ceiling after which images are re-encoded.
	MaxImageBytes int64 `yaml:"max_image_bytes" envconfig:"DOWNLOAD_MAX_IMAGE_BYTES" default:"10485760"`
}

// Cache holds delivered-media cache configuration.
type Cache struct {
	// Path to the sqlite database. Empty selects the in-memory store.
	Path string        `yaml:"path" envconfig:"CACHE_PATH"`
	TTL  time.Duration `yaml:"ttl" envconfig:"CACHE_TTL" default:"168h"`
}

// Mirrors holds the alternate front-end instances used by the
// challenge-solving provider.
type Mirrors struct {
	Invidious []string `yaml:"invidious" envconfig:"INVIDIOUS_MIRRORS" default:"https://yewtu.be,https://inv.nadeko.net,https://invidious.nerdvpn.de"`
	// SolveBudget caps a single proof-of-work search.
	SolveBudget time.Duration `yaml:"solve_budget" envconfig:"MIRROR_SOLVE_BUDGET" default:"20s"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.Telegram.CaptionLimit <= 0 {
		return fmt.Errorf("caption limit must be positive")
	}
	if c.Telegram.MediaGroupLimit <= 0 {
		return fmt.Errorf("media group limit must be positive")
	}
	if c.Download.Parallelism <= 0 {
		return fmt.Errorf("download parallelism must be positive")
	}
	if len(c.Mirrors.Invidious) == 0 {
		return fmt.Errorf("at least one invidious mirror is required")
	}
	return nil
}

// Address returns the server address in host:port format.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
