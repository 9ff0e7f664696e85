package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Vision   VisionConfig   `yaml:"vision"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxBodySize   int64         `yaml:"maxBodySize"` // bytes; request bodies carry base64 image payloads
	APIKey        string        `yaml:"apiKey"`      // optional static API key header (X-API-Key)
	StorageDir    string        `yaml:"storageDir"`
	DatabasePath  string        `yaml:"databasePath"` // optional, overrides default storageDir/shopglot.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
	LogLevel      string        `yaml:"logLevel"` // debug|info|warn|error
}

// VisionConfig selects the vision/generation provider and its options.
type VisionConfig struct {
	Provider string         `yaml:"provider"` // "openai" or "mock"
	OpenAI   OpenAISettings `yaml:"openai"`
	Mock     MockSettings   `yaml:"mock"`
}

// OpenAISettings config for the OpenAI vision/generation capability.
type OpenAISettings struct {
	BaseURL        string `yaml:"baseUrl"` // default https://api.openai.com
	APIKey         string `yaml:"apiKey"`
	DetectModel    string `yaml:"detectModel"`    // cheap vision model for the YES/NO text check
	ImageModel     string `yaml:"imageModel"`     // image edit model performing the translation
	GenerateModel  string `yaml:"generateModel"`  // text-to-image model for prompt generation
	TargetLanguage string `yaml:"targetLanguage"` // language visible text is translated into
	ImageSize      string `yaml:"imageSize"`      // e.g. 1024x1024
	ImageQuality   string `yaml:"imageQuality"`   // e.g. high
}

// MockSettings config for the mock vision client.
type MockSettings struct {
	Delay   time.Duration `yaml:"delay"`
	HasText bool          `yaml:"hasText"`
}

// CatalogConfig holds destination catalog credentials. When the shop is
// empty the service only supports local-download jobs.
type CatalogConfig struct {
	CatalogSettings `yaml:",inline"`
}

// CatalogSettings config for the Shopify Admin REST API.
type CatalogSettings struct {
	Shop        string `yaml:"shop"` // e.g. example.myshopify.com
	AccessToken string `yaml:"accessToken"`
	APIVersion  string `yaml:"apiVersion"`
	BaseURL     string `yaml:"baseUrl"` // optional override, mainly for tests
}

// PipelineConfig tunes the job executor and the atomic step processor.
type PipelineConfig struct {
	ItemDelay             time.Duration `yaml:"itemDelay"`             // pause between items (destination rate limits)
	RetryAttempts         int           `yaml:"retryAttempts"`         // transport-failure retry envelope per item
	RetryPause            time.Duration `yaml:"retryPause"`            // pause between envelope attempts
	ReassociatePause      time.Duration `yaml:"reassociatePause"`      // settle pause before variant reassociation
	ReassociateRetryPause time.Duration `yaml:"reassociateRetryPause"` // longer pause before the single reassociate retry
	ImageCost             float64       `yaml:"imageCost"`             // recorded cost per paid translation
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var SHOPGLOT_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("SHOPGLOT_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure storage dir exists
	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	// Default DB path under storage dir if not set.
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "shopglot.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Atomic step calls hold the connection through detect and translate.
		cfg.Server.WriteTimeout = 3 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize <= 0 {
		cfg.Server.MaxBodySize = 32 * 1024 * 1024 // base64 payloads are ~4/3 of image size
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Vision defaults
	if cfg.Vision.Provider == "" {
		cfg.Vision.Provider = "openai"
	}
	if cfg.Vision.Mock.Delay == 0 {
		cfg.Vision.Mock.Delay = 100 * time.Millisecond
	}
	if strings.EqualFold(cfg.Vision.Provider, "openai") {
		o := &cfg.Vision.OpenAI
		if strings.TrimSpace(o.BaseURL) == "" {
			o.BaseURL = "https://api.openai.com"
		}
		if strings.TrimSpace(o.DetectModel) == "" {
			o.DetectModel = "gpt-4o-mini"
		}
		if strings.TrimSpace(o.ImageModel) == "" {
			o.ImageModel = "gpt-image-1"
		}
		if strings.TrimSpace(o.GenerateModel) == "" {
			o.GenerateModel = "dall-e-3"
		}
		if strings.TrimSpace(o.TargetLanguage) == "" {
			o.TargetLanguage = "Spanish"
		}
		if strings.TrimSpace(o.ImageSize) == "" {
			o.ImageSize = "1024x1024"
		}
		if strings.TrimSpace(o.ImageQuality) == "" {
			o.ImageQuality = "high"
		}
	}

	// Catalog defaults
	if strings.TrimSpace(cfg.Catalog.APIVersion) == "" {
		cfg.Catalog.APIVersion = "2024-01"
	}

	// Pipeline defaults
	if cfg.Pipeline.ItemDelay == 0 {
		cfg.Pipeline.ItemDelay = 1 * time.Second
	}
	if cfg.Pipeline.RetryAttempts <= 0 {
		cfg.Pipeline.RetryAttempts = 3
	}
	if cfg.Pipeline.RetryPause == 0 {
		cfg.Pipeline.RetryPause = 2 * time.Second
	}
	if cfg.Pipeline.ReassociatePause == 0 {
		cfg.Pipeline.ReassociatePause = 2 * time.Second
	}
	if cfg.Pipeline.ReassociateRetryPause == 0 {
		cfg.Pipeline.ReassociateRetryPause = 3 * time.Second
	}
	if cfg.Pipeline.ImageCost == 0 {
		cfg.Pipeline.ImageCost = 0.25
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Vision.Provider)) {
	case "openai":
		if strings.TrimSpace(cfg.Vision.OpenAI.APIKey) == "" {
			return errors.New("vision.openai.apiKey is required")
		}
	case "mock":
		// no required settings
	default:
		return fmt.Errorf("unsupported vision provider %q", cfg.Vision.Provider)
	}

	// The catalog destination is optional, but when a shop is configured its
	// token must be too.
	if strings.TrimSpace(cfg.Catalog.Shop) != "" && strings.TrimSpace(cfg.Catalog.AccessToken) == "" {
		return errors.New("catalog.accessToken is required when catalog.shop is set")
	}

	if !isValidLogLevel(cfg.Server.LogLevel) {
		return fmt.Errorf("invalid logLevel %q", cfg.Server.LogLevel)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// CatalogEnabled reports whether catalog-destination jobs can run.
func (c *Config) CatalogEnabled() bool {
	return strings.TrimSpace(c.Catalog.Shop) != ""
}
