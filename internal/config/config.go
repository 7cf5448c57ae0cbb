package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/maneesh/commonfiles/internal/chunker"
)

// Storage backends.
const (
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort     string `yaml:"service_port"`
	ServiceName     string `yaml:"service_name"`
	StorageBackend  string `yaml:"storage_backend"`
	ChunkSizeMB     int    `yaml:"chunk_size_mb"`
	BlobCompression string `yaml:"blob_compression"`
	ReadParallelism int    `yaml:"read_parallelism"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
	StrictParents   bool   `yaml:"strict_parents"`
	RecentEvents    int    `yaml:"recent_events"`
	MaxFolderDepth  int    `yaml:"max_folder_depth"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`

	// MinIO configuration
	MinIOEndpoint   string `yaml:"minio_endpoint"`
	MinIOAccessKey  string `yaml:"minio_access_key"`
	MinIOSecretKey  string `yaml:"minio_secret_key"`
	MinIOBucketName string `yaml:"minio_bucket_name"`
	MinIOUseSSL     bool   `yaml:"minio_use_ssl"`

	// TiDB configuration
	TiDBHost     string `yaml:"tidb_host"`
	TiDBPort     string `yaml:"tidb_port"`
	TiDBUser     string `yaml:"tidb_user"`
	TiDBPassword string `yaml:"tidb_password"`
	TiDBDatabase string `yaml:"tidb_database"`

	// Redis configuration
	RedisEnabled  bool          `yaml:"redis_enabled"`
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     string        `yaml:"redis_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	// Tracing configuration
	TracingEnabled bool   `yaml:"tracing_enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

func defaults() *Config {
	return &Config{
		ServicePort:     "8080",
		ServiceName:     "commonfiles-service",
		StorageBackend:  BackendMinIO,
		ChunkSizeMB:     1,
		BlobCompression: "none",
		ReadParallelism: 4,
		MaxUploadMB:     512,
		RecentEvents:    10,
		MaxFolderDepth:  256,
		LogLevel:        "info",
		LogFormat:       "json",

		MinIOEndpoint:   "localhost:9000",
		MinIOAccessKey:  "minioadmin",
		MinIOSecretKey:  "minioadmin",
		MinIOBucketName: "commonfiles",

		TiDBHost:     "localhost",
		TiDBPort:     "4000",
		TiDBUser:     "root",
		TiDBDatabase: "commonfiles",

		RedisEnabled: true,
		RedisHost:    "localhost",
		RedisPort:    "6379",
		CacheTTL:     5 * time.Minute,

		TracingEnabled: true,
		JaegerEndpoint: "localhost:4318",
	}
}

// LoadConfig builds the configuration from, in increasing priority:
// defaults, the YAML file named by --config or CONFIG_FILE, environment
// variables and command-line flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := defaults()

	path, err := configPath(args)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	flagSet := cfg.flagSet()
	if err := flagSet.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPath(args []string) (string, error) {
	var path string
	flagSet := pflag.NewFlagSet("config", pflag.ContinueOnError)
	flagSet.ParseErrorsWhitelist.UnknownFlags = true
	flagSet.Usage = func() {}
	flagSet.StringVar(&path, "config", getEnv("CONFIG_FILE", ""), "")
	if err := flagSet.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", fmt.Errorf("failed to parse flags: %w", err)
	}
	return path, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServicePort = getEnv("SERVICE_PORT", c.ServicePort)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.ChunkSizeMB = getEnvAsInt("CHUNK_SIZE_MB", c.ChunkSizeMB)
	c.BlobCompression = getEnv("BLOB_COMPRESSION", c.BlobCompression)
	c.ReadParallelism = getEnvAsInt("READ_PARALLELISM", c.ReadParallelism)
	c.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.StrictParents = getEnvAsBool("STRICT_PARENTS", c.StrictParents)
	c.RecentEvents = getEnvAsInt("RECENT_EVENTS", c.RecentEvents)
	c.MaxFolderDepth = getEnvAsInt("MAX_FOLDER_DEPTH", c.MaxFolderDepth)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.MinIOEndpoint = getEnv("MINIO_ENDPOINT", c.MinIOEndpoint)
	c.MinIOAccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIOAccessKey)
	c.MinIOSecretKey = getEnv("MINIO_SECRET_KEY", c.MinIOSecretKey)
	c.MinIOBucketName = getEnv("MINIO_BUCKET_NAME", c.MinIOBucketName)
	c.MinIOUseSSL = getEnvAsBool("MINIO_USE_SSL", c.MinIOUseSSL)

	c.TiDBHost = getEnv("TIDB_HOST", c.TiDBHost)
	c.TiDBPort = getEnv("TIDB_PORT", c.TiDBPort)
	c.TiDBUser = getEnv("TIDB_USER", c.TiDBUser)
	c.TiDBPassword = getEnv("TIDB_PASSWORD", c.TiDBPassword)
	c.TiDBDatabase = getEnv("TIDB_DATABASE", c.TiDBDatabase)

	c.RedisEnabled = getEnvAsBool("REDIS_ENABLED", c.RedisEnabled)
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvAsInt("REDIS_DB", c.RedisDB)
	c.CacheTTL = getEnvAsDuration("CACHE_TTL", c.CacheTTL)

	c.TracingEnabled = getEnvAsBool("TRACING_ENABLED", c.TracingEnabled)
	c.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.JaegerEndpoint)
}

// flagSet binds the flags to c, using the current values as defaults so
// only flags given on the command line change anything.
func (c *Config) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("commonfiles", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&c.ServicePort, "port", c.ServicePort, "HTTP listen port")
	fs.StringVar(&c.StorageBackend, "storage-backend", c.StorageBackend, "storage backend: minio or memory")
	fs.IntVar(&c.ChunkSizeMB, "chunk-size-mb", c.ChunkSizeMB, "blob chunk size in MiB")
	fs.StringVar(&c.BlobCompression, "blob-compression", c.BlobCompression, "chunk compression: none, lz4 or zstd")
	fs.IntVar(&c.ReadParallelism, "read-parallelism", c.ReadParallelism, "chunks fetched concurrently per download")
	fs.IntVar(&c.MaxUploadMB, "max-upload-mb", c.MaxUploadMB, "largest accepted upload in MiB")
	fs.BoolVar(&c.StrictParents, "strict-parents", c.StrictParents, "reject unknown parent folders")
	fs.IntVar(&c.RecentEvents, "recent-events", c.RecentEvents, "audit events shown in file properties")
	fs.IntVar(&c.MaxFolderDepth, "max-folder-depth", c.MaxFolderDepth, "deepest folder chain walked for breadcrumbs")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json or text")
	fs.BoolVar(&c.RedisEnabled, "redis-enabled", c.RedisEnabled, "cache file metadata in Redis")
	fs.BoolVar(&c.TracingEnabled, "tracing-enabled", c.TracingEnabled, "export OpenTelemetry traces")
	return fs
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMinIO, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if _, err := chunker.ParseCompression(c.BlobCompression); err != nil {
		return err
	}
	if c.ChunkSizeMB <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSizeMB)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload must be positive, got %d", c.MaxUploadMB)
	}
	if c.ReadParallelism <= 0 {
		return fmt.Errorf("read parallelism must be positive, got %d", c.ReadParallelism)
	}
	return nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetMaxUploadBytes returns the upload limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
