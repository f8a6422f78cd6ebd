package config

type Config struct {
	// App: Global application metadata
	App AppInfoConfig `mapstructure:"app"`

	// Server: Network configuration and execution environment
	Server ServerConfig `mapstructure:"server"`

	// Database: SQLite record store and maintenance intervals
	Database DatabaseConfig `mapstructure:"database"`

	// Images: Derivative pipeline limits and global thumbnail options
	Images ImageConfig `mapstructure:"images"`

	// Cache: Reserved-column cache settings
	Cache CacheConfig `mapstructure:"cache"`

	// Security: Write secret and per-IP rate limiting
	Security SecurityConfig `mapstructure:"security"`

	// Log: Level, color and optional rotated file output
	Log LogConfig `mapstructure:"log"`

	// BaseURL: The public-facing root URL used for absolute link generation
	BaseURL string `mapstructure:"base_url"`

	// Resources: Image slots per resource type, keyed by resource type identifier
	Resources map[string]ResourceConfig `mapstructure:"resources"`
}

type AppInfoConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type ServerConfig struct {
	// Port: The TCP port the HTTP server will bind to (default: 9980)
	Port int `mapstructure:"port"`

	// Env: Execution context (development, staging, production)
	Env string `mapstructure:"env"`
}

type DatabaseConfig struct {
	// Path: Physical location of the SQLite database file (e.g., ./data/pictor.db)
	Path string `mapstructure:"path"`

	// SweepInterval: Frequency of the orphan sweep (e.g., "1h"). Empty disables it.
	SweepInterval string `mapstructure:"sweep_interval"`

	// TempTTL: Age after which unclaimed temp uploads are purged (e.g., "24h")
	TempTTL string `mapstructure:"temp_ttl"`
}

type ImageConfig struct {
	// UploadDir: Root of the derivative file tree (e.g., "uploads")
	UploadDir string `mapstructure:"upload_dir"`

	// RetinaFactor: Multiplier for high-density siblings. 0 disables retina output.
	RetinaFactor int `mapstructure:"retina_factor"`

	// MaxUploadSize: Maximum accepted source size (e.g., "5MB")
	MaxUploadSize string `mapstructure:"max_upload_size"`

	// AdminThumbWidth/AdminThumbHeight: Size of the implicit "admin" crop thumbnail
	AdminThumbWidth  int `mapstructure:"admin_thumb_width"`
	AdminThumbHeight int `mapstructure:"admin_thumb_height"`

	// Quality: JPEG compression level for derivatives (1-100)
	Quality int `mapstructure:"quality"`

	// Workers: Uploads processed concurrently. 0 uses the number of CPUs.
	Workers int `mapstructure:"workers"`

	// ThumbnailWorkers: Parallel thumbnail transforms inside one upload
	ThumbnailWorkers int `mapstructure:"thumbnail_workers"`

	// TransformTimeout: Base deadline for one upload's transforms (e.g., "10s")
	TransformTimeout string `mapstructure:"transform_timeout"`

	// TransformTimeoutPerMB: Extra deadline per MB of source (e.g., "2s")
	TransformTimeoutPerMB string `mapstructure:"transform_timeout_per_mb"`
}

type CacheConfig struct {
	// Enabled: Toggles the in-memory reserved-column cache
	Enabled bool `mapstructure:"enabled"`

	// ColumnsTTL: How long the reserved-column set is trusted (e.g., "168h")
	ColumnsTTL string `mapstructure:"columns_ttl"`
}

type SecurityConfig struct {
	// UploadSecret: Static token required in X-Secret-Key header for write operations
	UploadSecret string `mapstructure:"upload_secret"`

	// RateLimit: Token-bucket limits per client IP
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Requests int    `mapstructure:"requests"`
	Window   string `mapstructure:"window"`
	Burst    int    `mapstructure:"burst"`
}

type LogConfig struct {
	Level    string            `mapstructure:"level"`
	File     string            `mapstructure:"file"`
	NoColor  bool              `mapstructure:"no_color"`
	Rotation LogRotationConfig `mapstructure:"rotation"`
}

type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type ResourceConfig struct {
	Slots map[string]SlotConfig `mapstructure:"slots"`
}

// SlotConfig mirrors one image field of a resource type:
//
//	cover:
//	  single: true
//	  thumbnails:
//	    thumb: {width: 100, height: 50, type: crop}
//	  fields:
//	    alt: {type: text, label: Alt text}
type SlotConfig struct {
	Single     bool                       `mapstructure:"single"`
	AdminThumb *bool                      `mapstructure:"admin_thumb"`
	Thumbnails map[string]ThumbnailConfig `mapstructure:"thumbnails"`
	Fields     map[string]FieldConfig     `mapstructure:"fields"`
}

type ThumbnailConfig struct {
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Type   string `mapstructure:"type"`
	Color  string `mapstructure:"color"`
}

// FieldConfig declares a meta field. Disabled drops one of the default
// alt and title fields.
type FieldConfig struct {
	Type     string `mapstructure:"type"`
	Label    string `mapstructure:"label"`
	Disabled bool   `mapstructure:"disabled"`
}
