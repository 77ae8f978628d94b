package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/session"
	"github.com/kozaktomas/face-attendance/internal/tracker"
)

type Config struct {
	Database    DatabaseConfig
	Embedding   EmbeddingConfig
	Match       MatchConfig
	Track       TrackConfig
	Attendance  AttendanceConfig
	Writer      WriterConfig
	Spool       SpoolConfig
	Feed        FeedConfig
	MQTT        MQTTConfig
	Log         LogConfig
	Web         WebConfig
	CamerasFile string
	Cameras     []Camera
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	Dim int // fixed embedding dimension (default 512)
	// HNSWMinRecords enables the HNSW graph once this many records are active (0 = never)
	HNSWMinRecords int
	HNSWIndexPath  string // Path to persist the HNSW graph (optional, rebuilt on startup if empty)
}

type MatchConfig struct {
	QualityThreshold    float64
	SimilarityThreshold float64
	AmbiguityMargin     float64
}

type TrackConfig struct {
	AssociationWindow   time.Duration
	AssociationDistance float64
	LostTimeout         time.Duration
	ReacquireWindow     time.Duration
	HistorySize         int
	TickInterval        time.Duration
}

type AttendanceConfig struct {
	Cooldown    time.Duration
	Mode        string // rolling or daily
	Timezone    string
	Location    *time.Location
	MergeWindow time.Duration
}

type WriterConfig struct {
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	DrainInterval  time.Duration
}

type SpoolConfig struct {
	Path string // SQLite file for events the database could not take
}

type FeedConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type MQTTConfig struct {
	Broker           string // e.g. tcp://mosquitto:1883; empty disables diagnostics publishing
	ClientID         string
	Username         string
	Password         string
	DiagnosticsTopic string
}

type LogConfig struct {
	Level  string
	Format string // console or json
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && !math.IsInf(f, 0) {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration (e.g. 500ms, 24h).
// Zero is accepted; negative or malformed values fall back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

// envString reads an environment variable with a default for unset or empty values.
func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// Load reads the configuration from the environment and the cameras file.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			Dim:            envInt("EMBEDDING_DIM", 512),
			HNSWMinRecords: envInt("STORE_HNSW_MIN_RECORDS", 0),
			HNSWIndexPath:  os.Getenv("STORE_HNSW_INDEX_PATH"),
		},
		Match: MatchConfig{
			QualityThreshold:    envFloat("MATCH_QUALITY_THRESHOLD", 0.5),
			SimilarityThreshold: envFloat("MATCH_SIMILARITY_THRESHOLD", 0.8),
			AmbiguityMargin:     envFloat("MATCH_AMBIGUITY_MARGIN", 0.05),
		},
		Track: TrackConfig{
			AssociationWindow:   envDuration("TRACK_ASSOCIATION_WINDOW", time.Second),
			AssociationDistance: envFloat("TRACK_ASSOCIATION_DISTANCE", 0.15),
			LostTimeout:         envDuration("TRACK_LOST_TIMEOUT", 3*time.Second),
			ReacquireWindow:     envDuration("TRACK_REACQUIRE_WINDOW", 5*time.Second),
			HistorySize:         envInt("TRACK_HISTORY_SIZE", 10),
			TickInterval:        envDuration("TRACK_TICK_INTERVAL", 500*time.Millisecond),
		},
		Attendance: AttendanceConfig{
			Cooldown:    envDuration("ATTENDANCE_COOLDOWN", 24*time.Hour),
			Mode:        envString("ATTENDANCE_COOLDOWN_MODE", string(attendance.CooldownRolling)),
			Timezone:    envString("ATTENDANCE_TIMEZONE", "Local"),
			MergeWindow: envDuration("ATTENDANCE_MERGE_WINDOW", 2*time.Second),
		},
		Writer: WriterConfig{
			QueueSize:      envInt("WRITER_QUEUE_SIZE", 256),
			MaxAttempts:    envInt("WRITER_MAX_ATTEMPTS", 5),
			InitialBackoff: envDuration("WRITER_INITIAL_BACKOFF", 200*time.Millisecond),
			DrainInterval:  envDuration("WRITER_DRAIN_INTERVAL", 30*time.Second),
		},
		Spool: SpoolConfig{
			Path: envString("SPOOL_PATH", "attendance-spool.db"),
		},
		Feed: FeedConfig{
			MaxRetries:     envInt("FEED_MAX_RETRIES", 5),
			InitialBackoff: envDuration("FEED_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("FEED_MAX_BACKOFF", 30*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:           os.Getenv("MQTT_BROKER"),
			ClientID:         envString("MQTT_CLIENT_ID", "face-attendance"),
			Username:         os.Getenv("MQTT_USERNAME"),
			Password:         os.Getenv("MQTT_PASSWORD"),
			DiagnosticsTopic: envString("MQTT_DIAGNOSTICS_TOPIC", "face-attendance/diagnostics"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		CamerasFile: os.Getenv("CAMERAS_FILE"),
	}

	loc, err := loadLocation(cfg.Attendance.Timezone)
	if err != nil {
		return nil, err
	}
	cfg.Attendance.Location = loc

	if cfg.CamerasFile != "" {
		cameras, err := LoadCameras(cfg.CamerasFile)
		if err != nil {
			return nil, err
		}
		cfg.Cameras = cameras
	}
	return cfg, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid ATTENDANCE_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// MatcherConfig returns the matcher thresholds.
func (c *Config) MatcherConfig() matcher.Config {
	return matcher.Config{
		QualityThreshold:    c.Match.QualityThreshold,
		SimilarityThreshold: c.Match.SimilarityThreshold,
		AmbiguityMargin:     c.Match.AmbiguityMargin,
	}
}

// TrackerConfig returns the per-camera tracker configuration.
func (c *Config) TrackerConfig() tracker.Config {
	return tracker.Config{
		AssociationWindow:   c.Track.AssociationWindow,
		AssociationDistance: c.Track.AssociationDistance,
		LostTimeout:         c.Track.LostTimeout,
		ReacquireWindow:     c.Track.ReacquireWindow,
		HistorySize:         c.Track.HistorySize,
	}
}

// SessionConfig returns the camera session configuration.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Tracker:        c.TrackerConfig(),
		TickInterval:   c.Track.TickInterval,
		MaxRetries:     c.Feed.MaxRetries,
		InitialBackoff: c.Feed.InitialBackoff,
		MaxBackoff:     c.Feed.MaxBackoff,
	}
}

// EngineConfig returns the attendance decision engine configuration.
func (c *Config) EngineConfig() attendance.Config {
	return attendance.Config{
		Cooldown:    c.Attendance.Cooldown,
		Mode:        attendance.CooldownMode(c.Attendance.Mode),
		Location:    c.Attendance.Location,
		MergeWindow: c.Attendance.MergeWindow,
	}
}

// WriterConfig returns the attendance writer configuration.
func (c *Config) WriterConfig() attendance.WriterConfig {
	wc := attendance.DefaultWriterConfig()
	wc.QueueSize = c.Writer.QueueSize
	wc.MaxAttempts = c.Writer.MaxAttempts
	wc.InitialBackoff = c.Writer.InitialBackoff
	wc.DrainInterval = c.Writer.DrainInterval
	return wc
}

// Validate reports every invalid setting at once. Invalid configuration is
// fatal to startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Dim <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIM must be positive"))
	}
	if err := c.MatcherConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("match: %w", err))
	}
	if err := c.SessionConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracking: %w", err))
	}
	if err := c.EngineConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("attendance: %w", err))
	}
	if c.Writer.InitialBackoff <= 0 {
		errs = append(errs, errors.New("WRITER_INITIAL_BACKOFF must be positive"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.Log.Format))
	}
	if err := validateCameras(c.Cameras); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
