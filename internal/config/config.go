package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tkilaker/feedkiln/internal/jobs"
)

// Config holds all application configuration
type Config struct {
	// Database
	DatabaseURL string
	SQLitePath  string

	// Server
	Port int

	// Logging
	LogLevel  string
	LogPretty bool

	// Sources
	SourcesFile         string
	SourceMaxConcurrent int

	// Fetch engine
	FetchMaxConcurrent int
	FetchTimeout       time.Duration
	ContentTimeout     time.Duration
	ContentPerSource   int
	ContentMaxChars    int
	UserAgent          string

	// Persistence
	PersistTimeout   time.Duration
	RetentionDays    int
	LogRetentionDays int

	// Jobs
	JobRetention   time.Duration
	JobGracePeriod time.Duration
	WorkerPoolSize int
	JobStorePath   string

	// Scheduler
	SchedulerEnabled bool
	ScheduleTimezone string
	DailyFetchHour   int
	WeeklyFetchDay   int
	WeeklyFetchHour  int
	CleanupDay       int
	CleanupHour      int
	ReportInterval   time.Duration

	// RSS Feed
	FeedTitle       string
	FeedDescription string
	FeedLink        string
	FeedAuthor      string
}

var defaults = map[string]any{
	"database_url":          "",
	"sqlite_path":           "feedkiln.db",
	"port":                  8080,
	"log_level":             "info",
	"log_pretty":            false,
	"sources_file":          "",
	"source_max_concurrent": 2,
	"fetch_max_concurrent":  8,
	"fetch_timeout":         30 * time.Second,
	"content_timeout":       20 * time.Second,
	"content_per_source":    5,
	"content_max_chars":     5000,
	"user_agent":            "feedkiln/1.0 (+https://github.com/tkilaker/feedkiln)",
	"persist_timeout":       2 * time.Minute,
	"retention_days":        30,
	"log_retention_days":    90,
	"job_retention":         24 * time.Hour,
	"job_grace_period":      time.Hour,
	"worker_pool_size":      4,
	"job_store_path":        "",
	"scheduler_enabled":     true,
	"schedule_timezone":     "UTC",
	"daily_fetch_hour":      6,
	"weekly_fetch_day":      0,
	"weekly_fetch_hour":     3,
	"cleanup_day":           0,
	"cleanup_hour":          2,
	"report_interval":       6 * time.Hour,
	"feed_title":            "Feedkiln",
	"feed_description":      "Recently ingested articles",
	"feed_link":             "http://localhost:8080",
	"feed_author":           "Feedkiln",
}

// Load reads configuration from a .env file (when present) and environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		DatabaseURL:         v.GetString("database_url"),
		SQLitePath:          v.GetString("sqlite_path"),
		Port:                v.GetInt("port"),
		LogLevel:            v.GetString("log_level"),
		LogPretty:           v.GetBool("log_pretty"),
		SourcesFile:         v.GetString("sources_file"),
		SourceMaxConcurrent: v.GetInt("source_max_concurrent"),
		FetchMaxConcurrent:  v.GetInt("fetch_max_concurrent"),
		FetchTimeout:        v.GetDuration("fetch_timeout"),
		ContentTimeout:      v.GetDuration("content_timeout"),
		ContentPerSource:    v.GetInt("content_per_source"),
		ContentMaxChars:     v.GetInt("content_max_chars"),
		UserAgent:           v.GetString("user_agent"),
		PersistTimeout:      v.GetDuration("persist_timeout"),
		RetentionDays:       v.GetInt("retention_days"),
		LogRetentionDays:    v.GetInt("log_retention_days"),
		JobRetention:        v.GetDuration("job_retention"),
		JobGracePeriod:      v.GetDuration("job_grace_period"),
		WorkerPoolSize:      v.GetInt("worker_pool_size"),
		JobStorePath:        v.GetString("job_store_path"),
		SchedulerEnabled:    v.GetBool("scheduler_enabled"),
		ScheduleTimezone:    v.GetString("schedule_timezone"),
		DailyFetchHour:      v.GetInt("daily_fetch_hour"),
		WeeklyFetchDay:      v.GetInt("weekly_fetch_day"),
		WeeklyFetchHour:     v.GetInt("weekly_fetch_hour"),
		CleanupDay:          v.GetInt("cleanup_day"),
		CleanupHour:         v.GetInt("cleanup_hour"),
		ReportInterval:      v.GetDuration("report_interval"),
		FeedTitle:           v.GetString("feed_title"),
		FeedDescription:     v.GetString("feed_description"),
		FeedLink:            v.GetString("feed_link"),
		FeedAuthor:          v.GetString("feed_author"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("either DATABASE_URL or SQLITE_PATH is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.FetchMaxConcurrent < 1 {
		return fmt.Errorf("FETCH_MAX_CONCURRENT must be at least 1")
	}
	if c.SourceMaxConcurrent < 1 {
		return fmt.Errorf("SOURCE_MAX_CONCURRENT must be at least 1")
	}
	if c.FetchTimeout <= 0 || c.ContentTimeout <= 0 || c.PersistTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT, CONTENT_TIMEOUT and PERSIST_TIMEOUT must be positive")
	}
	if c.ContentPerSource < 0 {
		return fmt.Errorf("CONTENT_PER_SOURCE cannot be negative")
	}
	if c.ContentMaxChars < 1 {
		return fmt.Errorf("CONTENT_MAX_CHARS must be at least 1")
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1")
	}
	if c.LogRetentionDays < 1 {
		return fmt.Errorf("LOG_RETENTION_DAYS must be at least 1")
	}
	// every job kind may be active at once
	if c.WorkerPoolSize < len(jobs.Kinds) {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least %d, got %d", len(jobs.Kinds), c.WorkerPoolSize)
	}
	if c.JobRetention <= 0 || c.JobGracePeriod <= 0 {
		return fmt.Errorf("JOB_RETENTION and JOB_GRACE_PERIOD must be positive")
	}
	if err := checkHour("DAILY_FETCH_HOUR", c.DailyFetchHour); err != nil {
		return err
	}
	if err := checkHour("WEEKLY_FETCH_HOUR", c.WeeklyFetchHour); err != nil {
		return err
	}
	if err := checkHour("CLEANUP_HOUR", c.CleanupHour); err != nil {
		return err
	}
	if c.WeeklyFetchDay < 0 || c.WeeklyFetchDay > 6 || c.CleanupDay < 0 || c.CleanupDay > 6 {
		return fmt.Errorf("WEEKLY_FETCH_DAY and CLEANUP_DAY must be between 0 (Sunday) and 6")
	}
	if c.ReportInterval < time.Minute {
		return fmt.Errorf("REPORT_INTERVAL must be at least 1m")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", c.ScheduleTimezone, err)
	}
	return loc, nil
}

// UsesPostgres reports whether the Postgres store is configured.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

func checkHour(name string, hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%s must be between 0 and 23, got %d", name, hour)
	}
	return nil
}
