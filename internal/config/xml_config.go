// Package config provides XML-based configuration for the preview gateway.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
)

// Content sources.
const (
	SourceAPI = "api"
	SourceS3  = "s3"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"PreviewGateway"`

	Server     ServerConfig     `xml:"Server"`
	Upstream   UpstreamConfig   `xml:"Upstream"`
	Content    ContentConfig    `xml:"Content"`
	Storage    StorageConfig    `xml:"Storage"`
	Cache      CacheConfig      `xml:"Cache"`
	Processing ProcessingConfig `xml:"Processing"`
	Advanced   AdvancedConfig   `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int    `xml:"Port"`
	BindAddress     string `xml:"BindAddress"`
	EnableCORS      bool   `xml:"EnableCORS"`
	AllowOrigins    string `xml:"AllowOrigins"`
	ReadTimeout     int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout    int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout     int    `xml:"IdleTimeoutSeconds"`
	ShutdownTimeout int    `xml:"ShutdownTimeoutSeconds"`
	BodyLimit       string `xml:"BodyLimit"`
}

// UpstreamConfig points at the document REST API.
type UpstreamConfig struct {
	BaseURL        string `xml:"BaseURL"`
	Token          string `xml:"Token"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
}

// ContentConfig selects where preview bytes come from.
type ContentConfig struct {
	Source             string   `xml:"Source"` // "api" or "s3"
	MaxPreviewSizeMB   int      `xml:"MaxPreviewSizeMB"`
	LanguageLabelsFile string   `xml:"LanguageLabelsFile"`
	S3                 S3Config `xml:"S3"`
}

// S3Config is used when Content.Source is "s3".
type S3Config struct {
	Endpoint          string `xml:"Endpoint"`
	Region            string `xml:"Region"`
	Bucket            string `xml:"Bucket"`
	Prefix            string `xml:"Prefix"`
	AccessKeyID       string `xml:"AccessKeyID"`
	SecretAccessKey   string `xml:"SecretAccessKey"`
	UseSSL            bool   `xml:"UseSSL"`
	UsePathStyle      bool   `xml:"UsePathStyle"`
	PresignTTLMinutes int    `xml:"PresignTTLMinutes"`
}

// StorageConfig contains local file settings
type StorageConfig struct {
	DataDirectory        string `xml:"DataDirectory"`
	StagingDirectory     string `xml:"StagingDirectory"`
	StateFile            string `xml:"StateFile"`
	StagingMaxAgeMinutes int    `xml:"StagingMaxAgeMinutes"`
}

// CacheConfig configures read-cache invalidation. An empty RedisURL turns
// invalidation into a no-op.
type CacheConfig struct {
	RedisURL  string `xml:"RedisURL"`
	KeyPrefix string `xml:"KeyPrefix"`
	Channel   string `xml:"Channel"`
}

// ProcessingConfig contains preview session settings
type ProcessingConfig struct {
	MaxSessions            int  `xml:"MaxSessions"`
	SessionTimeoutMinutes  int  `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int  `xml:"CleanupIntervalMinutes"`
	EnableCompression      bool `xml:"EnableCompression"`
	CompressionLevel       int  `xml:"CompressionLevel"`
}

// AdvancedConfig contains logging and tuning options
type AdvancedConfig struct {
	Logging                 logging.Config `xml:"Logging"`
	EnableRequestLogging    bool           `xml:"EnableRequestLogging"`
	WebSocketMaxMessageSize int            `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:            8090,
			BindAddress:     "0.0.0.0",
			EnableCORS:      true,
			AllowOrigins:    "*",
			ReadTimeout:     30,
			WriteTimeout:    60,
			IdleTimeout:     120,
			ShutdownTimeout: 15,
			BodyLimit:       "512M",
		},
		Upstream: UpstreamConfig{
			BaseURL:        "http://localhost:8080/api/v1",
			TimeoutSeconds: 30,
		},
		Content: ContentConfig{
			Source:           SourceAPI,
			MaxPreviewSizeMB: 20,
			S3: S3Config{
				Region:            "us-east-1",
				Bucket:            "documents",
				UsePathStyle:      true,
				PresignTTLMinutes: 60,
			},
		},
		Storage: StorageConfig{
			DataDirectory:        "./data",
			StagingDirectory:     "./data/staging",
			StateFile:            "./data/upload-queue.msgpack",
			StagingMaxAgeMinutes: 24 * 60,
		},
		Cache: CacheConfig{
			KeyPrefix: "cache:",
			Channel:   "cache:invalidate",
		},
		Processing: ProcessingConfig{
			MaxSessions:            200,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Advanced: AdvancedConfig{
			Logging: logging.Config{
				Level:  "info",
				Format: "json",
			},
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from an XML file, writing the defaults
// there first if it does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	header := []byte(xml.Header + "\n<!-- Preview Gateway Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.StagingDirectory = filepath.Join(dataDir, "staging")
		c.Storage.StateFile = filepath.Join(dataDir, "upload-queue.msgpack")
	}

	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_TOKEN"); v != "" {
		c.Upstream.Token = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("CONTENT_SOURCE"); v != "" {
		c.Content.Source = v
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.StagingDirectory,
		&c.Storage.StateFile,
		&c.Content.LanguageLabelsFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate reports settings the gateway cannot start with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Content.Source {
	case SourceAPI:
	case SourceS3:
		if c.Content.S3.Bucket == "" {
			return fmt.Errorf("content source s3 needs a bucket")
		}
	default:
		return fmt.Errorf("unknown content source %q", c.Content.Source)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base url is required")
	}
	return nil
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// UpstreamTimeout returns the per-request upstream timeout.
func (c *AppConfig) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// MaxPreviewBytes returns the largest document body fetched for a preview.
func (c *AppConfig) MaxPreviewBytes() int64 {
	return int64(c.Content.MaxPreviewSizeMB) << 20
}

// SessionTimeout returns how long an unused preview session lives.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle sessions and stale staged files
// are swept. It never returns less than a minute.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.StagingDirectory,
		filepath.Dir(c.Storage.StateFile),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
