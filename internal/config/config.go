// Package config provides configuration management for recapd.
// Configuration is loaded via viper: defaults, then an optional config
// file, then RECAPD_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultDataDir is the directory under $HOME holding the database
	// and the artifact workspace.
	DefaultDataDir = ".recapd"

	// DBFilename is the SQLite database filename inside the data dir.
	DBFilename = "recapd.db"
)

// Config holds the full daemon configuration.
type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Segment   SegmentConfig
	Tools     ToolsConfig
	LLM       LLMConfig
	Retention RetentionConfig

	dataDir string
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host     string
	Port     int
	LogLevel string
}

// PoolConfig bounds pipeline concurrency.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// SegmentConfig holds the audio windowing parameters, in milliseconds.
type SegmentConfig struct {
	WindowMS  int
	OverlapMS int
	MinMS     int
}

// ToolsConfig names the external binaries the stages shell out to.
type ToolsConfig struct {
	YTDLP        string
	FFmpeg       string
	FFprobe      string
	Whisper      string
	WhisperModel string

	FetchTimeout      time.Duration
	ProbeTimeout      time.Duration
	ExtractTimeout    time.Duration
	TranscribeTimeout time.Duration
}

// LLMConfig points the content transformer at an OpenAI-compatible
// chat-completions endpoint (a local Ollama by default).
type LLMConfig struct {
	BaseURL           string
	Model             string
	APIKey            string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
}

// RetentionConfig controls the cleanup default.
type RetentionConfig struct {
	Days int
}

// Load builds a Config from defaults, an optional config.yaml next to the
// binary or under ./config, and RECAPD_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.host", "RECAPD_HOST")
	_ = v.BindEnv("server.port", "RECAPD_PORT")
	_ = v.BindEnv("server.log_level", "RECAPD_LOG_LEVEL")
	_ = v.BindEnv("data_dir", "RECAPD_DATA_DIR")
	_ = v.BindEnv("pool.workers", "RECAPD_WORKERS")
	_ = v.BindEnv("pool.queue_size", "RECAPD_QUEUE_SIZE")
	_ = v.BindEnv("segment.window_ms", "RECAPD_SEGMENT_WINDOW_MS")
	_ = v.BindEnv("segment.overlap_ms", "RECAPD_SEGMENT_OVERLAP_MS")
	_ = v.BindEnv("segment.min_ms", "RECAPD_SEGMENT_MIN_MS")
	_ = v.BindEnv("tools.yt_dlp", "RECAPD_YTDLP")
	_ = v.BindEnv("tools.ffmpeg", "RECAPD_FFMPEG")
	_ = v.BindEnv("tools.ffprobe", "RECAPD_FFPROBE")
	_ = v.BindEnv("tools.whisper", "RECAPD_WHISPER")
	_ = v.BindEnv("tools.whisper_model", "RECAPD_WHISPER_MODEL")
	_ = v.BindEnv("tools.fetch_timeout_s", "RECAPD_FETCH_TIMEOUT_S")
	_ = v.BindEnv("tools.probe_timeout_s", "RECAPD_PROBE_TIMEOUT_S")
	_ = v.BindEnv("tools.extract_timeout_s", "RECAPD_EXTRACT_TIMEOUT_S")
	_ = v.BindEnv("tools.transcribe_timeout_s", "RECAPD_TRANSCRIBE_TIMEOUT_S")
	_ = v.BindEnv("llm.base_url", "RECAPD_LLM_BASE_URL")
	_ = v.BindEnv("llm.model", "RECAPD_LLM_MODEL")
	_ = v.BindEnv("llm.api_key", "RECAPD_LLM_API_KEY")
	_ = v.BindEnv("llm.temperature", "RECAPD_LLM_TEMPERATURE")
	_ = v.BindEnv("llm.timeout_s", "RECAPD_LLM_TIMEOUT_S")
	_ = v.BindEnv("llm.requests_per_minute", "RECAPD_LLM_RPM")
	_ = v.BindEnv("retention.days", "RECAPD_RETENTION_DAYS")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("pool.workers", 2)
	v.SetDefault("pool.queue_size", 64)
	v.SetDefault("segment.window_ms", 20000)
	v.SetDefault("segment.overlap_ms", 2000)
	v.SetDefault("segment.min_ms", 1000)
	v.SetDefault("tools.yt_dlp", "yt-dlp")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.ffprobe", "ffprobe")
	v.SetDefault("tools.whisper", "whisper-cli")
	v.SetDefault("tools.whisper_model", "")
	v.SetDefault("tools.fetch_timeout_s", 900)
	v.SetDefault("tools.probe_timeout_s", 30)
	v.SetDefault("tools.extract_timeout_s", 120)
	v.SetDefault("tools.transcribe_timeout_s", 600)
	v.SetDefault("llm.base_url", "http://127.0.0.1:11434/v1")
	v.SetDefault("llm.model", "deepseek-r1:32b")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout_s", 600)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("retention.days", 30)

	// Config file is optional
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Host:     v.GetString("server.host"),
			Port:     v.GetInt("server.port"),
			LogLevel: v.GetString("server.log_level"),
		},
		Pool: PoolConfig{
			Workers:   v.GetInt("pool.workers"),
			QueueSize: v.GetInt("pool.queue_size"),
		},
		Segment: SegmentConfig{
			WindowMS:  v.GetInt("segment.window_ms"),
			OverlapMS: v.GetInt("segment.overlap_ms"),
			MinMS:     v.GetInt("segment.min_ms"),
		},
		Tools: ToolsConfig{
			YTDLP:             v.GetString("tools.yt_dlp"),
			FFmpeg:            v.GetString("tools.ffmpeg"),
			FFprobe:           v.GetString("tools.ffprobe"),
			Whisper:           v.GetString("tools.whisper"),
			WhisperModel:      v.GetString("tools.whisper_model"),
			FetchTimeout:      time.Duration(v.GetInt("tools.fetch_timeout_s")) * time.Second,
			ProbeTimeout:      time.Duration(v.GetInt("tools.probe_timeout_s")) * time.Second,
			ExtractTimeout:    time.Duration(v.GetInt("tools.extract_timeout_s")) * time.Second,
			TranscribeTimeout: time.Duration(v.GetInt("tools.transcribe_timeout_s")) * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:           v.GetString("llm.base_url"),
			Model:             v.GetString("llm.model"),
			APIKey:            v.GetString("llm.api_key"),
			Temperature:       v.GetFloat64("llm.temperature"),
			Timeout:           time.Duration(v.GetInt("llm.timeout_s")) * time.Second,
			RequestsPerMinute: v.GetInt("llm.requests_per_minute"),
		},
		Retention: RetentionConfig{
			Days: v.GetInt("retention.days"),
		},
		dataDir: v.GetString("data_dir"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d: must be between 1 and 65535", c.Server.Port)
	}
	if c.Pool.Workers < 1 {
		return fmt.Errorf("invalid worker count %d: must be at least 1", c.Pool.Workers)
	}
	if c.Pool.QueueSize < 1 {
		return fmt.Errorf("invalid queue size %d: must be at least 1", c.Pool.QueueSize)
	}
	if c.Segment.WindowMS <= c.Segment.OverlapMS {
		return fmt.Errorf("segment window (%dms) must exceed overlap (%dms)", c.Segment.WindowMS, c.Segment.OverlapMS)
	}
	if c.Segment.MinMS < 0 || c.Segment.MinMS > c.Segment.WindowMS {
		return fmt.Errorf("segment min length (%dms) must be between 0 and the window length", c.Segment.MinMS)
	}
	return nil
}

// DataDir returns the data directory path.
func (c *Config) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkspaceDir returns the artifact workspace root.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.dataDir, "workspace")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
