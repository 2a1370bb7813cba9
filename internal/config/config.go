// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the mirror engine.
type CrawlerConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	OutputDir           string  `mapstructure:"output_dir"`
	Concurrency         int     `mapstructure:"concurrency"`
	CategoryParallelism int     `mapstructure:"category_parallelism"`
	MaxCataloguePages   int     `mapstructure:"max_catalogue_pages"`
	IncludeAssets       bool    `mapstructure:"include_assets"`
	UserAgent           string  `mapstructure:"user_agent"`
	MaxBodyBytes        int     `mapstructure:"max_body_bytes"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// QueueConfig sizes the run queue and worker pool of the serve command.
type QueueConfig struct {
	Depth   int `mapstructure:"depth"`
	Workers int `mapstructure:"workers"`
}

// ManifestConfig points the manifest sink at Postgres. An empty DSN keeps
// manifests in memory.
type ManifestConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for run notifications. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig controls upload of finished mirrors. A bucket takes precedence
// over Dir; both empty disables archiving.
type ArchiveConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Dir         string `mapstructure:"dir"`
	Prefix      string `mapstructure:"prefix"`
	Parallelism int    `mapstructure:"parallelism"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := crawler.DefaultConfig()
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.base_url", "http://books.toscrape.com/")
	v.SetDefault("crawler.output_dir", "mirror")
	v.SetDefault("crawler.concurrency", def.Concurrency)
	v.SetDefault("crawler.category_parallelism", def.CategoryParallelism)
	v.SetDefault("crawler.max_catalogue_pages", def.MaxCataloguePages)
	v.SetDefault("crawler.include_assets", def.IncludeAssets)
	v.SetDefault("crawler.user_agent", "catalog-mirror/0.1")
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("queue.depth", 16)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("manifest.dsn", "")
	v.SetDefault("manifest.table", "mirror_manifest")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.prefix", "mirrors")
	v.SetDefault("archive.parallelism", 8)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := c.Crawl().Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if c.Crawler.MaxBodyBytes < 0 {
		return fmt.Errorf("crawler.max_body_bytes must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Queue.Depth <= 0 || c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.depth and queue.workers must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// Crawl converts the crawler section into engine settings.
func (c Config) Crawl() crawler.Config {
	return crawler.Config{
		Concurrency:         c.Crawler.Concurrency,
		CategoryParallelism: c.Crawler.CategoryParallelism,
		MaxCataloguePages:   c.Crawler.MaxCataloguePages,
		IncludeAssets:       c.Crawler.IncludeAssets,
	}
}

// FetchTimeout is the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
