package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Media storage and chunking configuration
	Media MediaConfig `yaml:"media" json:"media"`

	// External transcoder configuration
	FFmpeg FFmpegConfig `yaml:"ffmpeg" json:"ffmpeg"`

	// Adaptive streaming configuration
	HLS HLSConfig `yaml:"hls" json:"hls"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"CHUNKSTREAM_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"CHUNKSTREAM_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"CHUNKSTREAM_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"CHUNKSTREAM_WRITE_TIMEOUT" default:"0s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"CHUNKSTREAM_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds metadata store configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"chunkstream"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"chunkstream"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"CHUNKSTREAM_DATABASE_PATH"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// MediaConfig holds video storage and time-chunking configuration
type MediaConfig struct {
	DataDir           string        `yaml:"data_dir" json:"data_dir" env:"CHUNKSTREAM_DATA_DIR" default:"./chunkstream-data"`
	IncomingDir       string        `yaml:"incoming_dir" json:"incoming_dir" env:"CHUNKSTREAM_INCOMING_DIR"`
	WatchIncoming     bool          `yaml:"watch_incoming" json:"watch_incoming" env:"CHUNKSTREAM_WATCH_INCOMING" default:"false"`
	ChunkDuration     float64       `yaml:"chunk_duration" json:"chunk_duration" env:"CHUNKSTREAM_CHUNK_DURATION" default:"120"`
	ChunkWorkers      int           `yaml:"chunk_workers" json:"chunk_workers" env:"CHUNKSTREAM_CHUNK_WORKERS" default:"0"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs" env:"CHUNKSTREAM_MAX_CONCURRENT_JOBS" default:"2"`
	IngestSettle      time.Duration `yaml:"ingest_settle" json:"ingest_settle" env:"CHUNKSTREAM_INGEST_SETTLE" default:"2s"`
}

// FFmpegConfig holds external transcoder configuration
type FFmpegConfig struct {
	FFmpegPath    string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"CHUNKSTREAM_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath   string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"CHUNKSTREAM_FFPROBE_PATH" default:"ffprobe"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" json:"probe_timeout" env:"CHUNKSTREAM_PROBE_TIMEOUT" default:"30s"`
	EncodeTimeout time.Duration `yaml:"encode_timeout" json:"encode_timeout" env:"CHUNKSTREAM_ENCODE_TIMEOUT" default:"15m"`
	Preset        string        `yaml:"preset" json:"preset" env:"CHUNKSTREAM_FFMPEG_PRESET" default:"fast"`
	CRF           int           `yaml:"crf" json:"crf" env:"CHUNKSTREAM_FFMPEG_CRF" default:"23"`
}

// Quality describes one adaptive bitrate rung
type Quality struct {
	Name    string `yaml:"name" json:"name"`
	Height  int    `yaml:"height" json:"height"`
	Bitrate int    `yaml:"bitrate" json:"bitrate"`
}

// HLSConfig holds adaptive streaming configuration
type HLSConfig struct {
	SegmentDuration   int       `yaml:"segment_duration" json:"segment_duration" env:"CHUNKSTREAM_HLS_SEGMENT_DURATION" default:"10"`
	ThumbnailInterval float64   `yaml:"thumbnail_interval" json:"thumbnail_interval" env:"CHUNKSTREAM_THUMBNAIL_INTERVAL" default:"10"`
	EnableWebP        bool      `yaml:"enable_webp" json:"enable_webp" env:"CHUNKSTREAM_ENABLE_WEBP" default:"true"`
	Qualities         []Quality `yaml:"qualities" json:"qualities"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"CHUNKSTREAM_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"CHUNKSTREAM_LOG_FORMAT" default:"text"`
}

var (
	mu      sync.RWMutex
	current = DefaultConfig()
)

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			// Range streaming of long videos must not be cut off by a
			// write deadline; zero disables it.
			WriteTimeout: 0,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			Host:     "localhost",
			Port:     5432,
			Username: "chunkstream",
			Database: "chunkstream",
		},
		Media: MediaConfig{
			DataDir:           "./chunkstream-data",
			WatchIncoming:     false,
			ChunkDuration:     120,
			ChunkWorkers:      0, // auto-detect
			MaxConcurrentJobs: 2,
			IngestSettle:      2 * time.Second,
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			ProbeTimeout:  30 * time.Second,
			EncodeTimeout: 15 * time.Minute,
			Preset:        "fast",
			CRF:           23,
		},
		HLS: HLSConfig{
			SegmentDuration:   10,
			ThumbnailInterval: 10,
			EnableWebP:        true,
			Qualities: []Quality{
				{Name: "360p", Height: 360, Bitrate: 500_000},
				{Name: "720p", Height: 720, Bitrate: 1_500_000},
				{Name: "1080p", Height: 1080, Bitrate: 3_000_000},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the optional YAML file at configPath and
// then applies environment variable overrides. Passing an empty path skips
// the file step.
func Load(configPath string) error {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerived(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

// Get returns the current configuration. The returned value is a copy and
// may be mutated freely by the caller.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	cfgCopy := *current
	return &cfgCopy
}

// Validate checks the configuration for obviously broken values
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Media.ChunkDuration <= 0 {
		return fmt.Errorf("invalid chunk duration: %v", c.Media.ChunkDuration)
	}
	if c.Media.MaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid max concurrent jobs: %d", c.Media.MaxConcurrentJobs)
	}
	if c.HLS.SegmentDuration < 1 {
		return fmt.Errorf("invalid HLS segment duration: %d", c.HLS.SegmentDuration)
	}
	if c.HLS.ThumbnailInterval <= 0 {
		return fmt.Errorf("invalid thumbnail interval: %v", c.HLS.ThumbnailInterval)
	}
	for _, q := range c.HLS.Qualities {
		if q.Name == "" || q.Height < 1 || q.Bitrate < 1 {
			return fmt.Errorf("invalid quality rung: %+v", q)
		}
	}
	return nil
}

// Derived paths for the per-video directory layout. The engine exclusively
// owns everything under DataDir.

// VideosDir is where uploaded source files live.
func (c *Config) VideosDir() string { return filepath.Join(c.Media.DataDir, "videos") }

// ChunksDir is where time-chunked segment files live.
func (c *Config) ChunksDir() string { return filepath.Join(c.Media.DataDir, "chunks") }

// HLSDir is the root of the per-video rendition trees.
func (c *Config) HLSDir() string { return filepath.Join(c.Media.DataDir, "hls") }

func applyDerived(cfg *Config) {
	if cfg.Database.DatabasePath == "" && cfg.Database.Type == "sqlite" {
		cfg.Database.DatabasePath = filepath.Join(cfg.Media.DataDir, "chunkstream.db")
	}
	if cfg.Media.IncomingDir == "" {
		cfg.Media.IncomingDir = filepath.Join(cfg.Media.DataDir, "incoming")
	}
	if cfg.Media.ChunkWorkers == 0 {
		cfg.Media.ChunkWorkers = minInt(maxInt(1, runtime.NumCPU()), 8)
	}
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
