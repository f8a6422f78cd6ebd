package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pictor/pkg/logger"
	"pictor/pkg/utils"
)

const DefaultMaxUploadSize = 5 << 20 // 5 MB

var AppConfig *Config

func (c *Config) GetBaseUrl() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

// LoadEnv reads a .env file from the working directory if one exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.LogWarn("Failed to read .env file: %v", err)
	}
}

// Load reads config.yaml (or the file at path), environment variables
// prefixed with PICTOR_ and defaults, validates the result and stores it in
// AppConfig.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PICTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.path", "PICTOR_DATABASE_PATH")
	v.BindEnv("security.upload_secret", "PICTOR_UPLOAD_SECRET")
	v.BindEnv("server.port", "APP_PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.LogInfo("Config file not found. Using Environment Variables and Defaults.")
		} else {
			return nil, fmt.Errorf("config file found but unreadable: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.BaseURL = cfg.GetBaseUrl()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	AppConfig = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "Pictor")
	v.SetDefault("app.version", "0.1.0")

	// Server
	v.SetDefault("server.port", 9980)
	v.SetDefault("server.env", "development")

	// Database
	v.SetDefault("database.path", "./data/pictor.db")
	v.SetDefault("database.sweep_interval", "1h")
	v.SetDefault("database.temp_ttl", "24h")

	// Image pipeline
	v.SetDefault("images.upload_dir", "uploads")
	v.SetDefault("images.retina_factor", 2)
	v.SetDefault("images.max_upload_size", "5MB")
	v.SetDefault("images.admin_thumb_width", 150)
	v.SetDefault("images.admin_thumb_height", 150)
	v.SetDefault("images.quality", 85)
	v.SetDefault("images.workers", 0)
	v.SetDefault("images.thumbnail_workers", 1)
	v.SetDefault("images.transform_timeout", "10s")
	v.SetDefault("images.transform_timeout_per_mb", "2s")

	// Caching
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.columns_ttl", "168h") // one week

	// Security & Limits
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests", 20)
	v.SetDefault("security.rate_limit.window", "1s")
	v.SetDefault("security.rate_limit.burst", 50)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.rotation.max_size", 128)
	v.SetDefault("log.rotation.max_backups", 5)
	v.SetDefault("log.rotation.max_age", 16)
}

func (c *Config) Validate() error {
	if c.Security.UploadSecret == "" || c.Security.UploadSecret == "secret" {
		if c.Server.Env == "production" {
			return fmt.Errorf("security.upload_secret cannot be default or empty in production environment")
		}
		logger.LogWarn("Security Alert: Using unsafe default Upload Secret. Do not use this in production!")
	}

	if c.Images.UploadDir == "" {
		return fmt.Errorf("images.upload_dir cannot be empty")
	}
	if c.Images.RetinaFactor < 0 {
		return fmt.Errorf("images.retina_factor must be >= 0 (0 disables retina), got %d", c.Images.RetinaFactor)
	}
	if c.Images.AdminThumbWidth <= 0 || c.Images.AdminThumbHeight <= 0 {
		return fmt.Errorf("images.admin_thumb_width/height must be positive")
	}
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("images.quality must be within 1-100, got %d", c.Images.Quality)
	}
	if _, err := utils.ParseSize(c.Images.MaxUploadSize); err != nil {
		return fmt.Errorf("images.max_upload_size: %w", err)
	}
	if c.Images.Workers < 0 || c.Images.ThumbnailWorkers < 0 {
		return fmt.Errorf("images.workers and images.thumbnail_workers cannot be negative")
	}

	durations := map[string]string{
		"images.transform_timeout":        c.Images.TransformTimeout,
		"images.transform_timeout_per_mb": c.Images.TransformTimeoutPerMB,
		"cache.columns_ttl":               c.Cache.ColumnsTTL,
		"database.temp_ttl":               c.Database.TempTTL,
		"security.rate_limit.window":      c.Security.RateLimit.Window,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s format '%s': %v", key, value, err)
		}
	}
	if c.Database.SweepInterval != "" {
		if _, err := time.ParseDuration(c.Database.SweepInterval); err != nil {
			return fmt.Errorf("invalid database.sweep_interval format '%s': %v", c.Database.SweepInterval, err)
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// MaxUploadBytes resolves images.max_upload_size.
func (c ImageConfig) MaxUploadBytes() int64 {
	n, err := utils.ParseSize(c.MaxUploadSize)
	if err != nil {
		return DefaultMaxUploadSize
	}
	return n
}

// WorkerCount resolves images.workers, defaulting to the number of CPUs.
func (c ImageConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Timeouts returns the base and per-MB transform deadlines. Values were
// checked by Validate.
func (c ImageConfig) Timeouts() (base, perMB time.Duration) {
	base, _ = time.ParseDuration(c.TransformTimeout)
	perMB, _ = time.ParseDuration(c.TransformTimeoutPerMB)
	return base, perMB
}

func mustDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// TTL resolves cache.columns_ttl.
func (c CacheConfig) TTL() time.Duration {
	return mustDuration(c.ColumnsTTL, 7*24*time.Hour)
}

// TempMaxAge resolves database.temp_ttl.
func (c DatabaseConfig) TempMaxAge() time.Duration {
	return mustDuration(c.TempTTL, 24*time.Hour)
}

// SweepEvery resolves database.sweep_interval; zero disables the sweeper.
func (c DatabaseConfig) SweepEvery() time.Duration {
	return mustDuration(c.SweepInterval, 0)
}

// LoggerOptions converts the log section for logger.Setup.
func (c LogConfig) LoggerOptions() logger.Options {
	level, _ := logger.ParseLevel(c.Level)
	return logger.Options{
		Level:      level,
		NoColor:    c.NoColor,
		File:       c.File,
		MaxSizeMB:  c.Rotation.MaxSize,
		MaxBackups: c.Rotation.MaxBackups,
		MaxAgeDays: c.Rotation.MaxAge,
		Compress:   c.Rotation.Compress,
	}
}
