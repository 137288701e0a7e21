package main

import (
	"fmt"
	"os"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/contest/controller"
	"codearena/internal/contest/leaderboard"
	"codearena/internal/judge/judge0"
	"codearena/internal/judge/runner"
	"codearena/internal/submit/service"
	"codearena/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultHealthTimeout   = 2 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string              `yaml:"addr"`
	ReadTimeout  time.Duration       `yaml:"readTimeout"`
	WriteTimeout time.Duration       `yaml:"writeTimeout"`
	IdleTimeout  time.Duration       `yaml:"idleTimeout"`
	CORS         commonmw.CORSConfig `yaml:"cors"`
}

// AuthConfig holds access token verification settings.
type AuthConfig struct {
	JWTSecret        string        `yaml:"jwtSecret"`
	JWTIssuer        string        `yaml:"jwtIssuer"`
	BlacklistTimeout time.Duration `yaml:"blacklistTimeout"`
}

// SubmitConfig holds submission settings.
type SubmitConfig struct {
	SourceBucket       string                  `yaml:"sourceBucket"`
	SourceKeyPrefix    string                  `yaml:"sourceKeyPrefix"`
	EventTopic         string                  `yaml:"eventTopic"`
	MaxCodeBytes       int                     `yaml:"maxCodeBytes"`
	IdempotencyTTL     time.Duration           `yaml:"idempotencyTTL"`
	SubmissionCacheTTL time.Duration           `yaml:"submissionCacheTTL"`
	SubmissionEmptyTTL time.Duration           `yaml:"submissionEmptyTTL"`
	RateLimit          service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts           service.TimeoutConfig   `yaml:"timeouts"`
	LeaderboardRetry   runner.RetryPolicy      `yaml:"leaderboardRetry"`
}

// JudgeConfig holds grading settings.
type JudgeConfig struct {
	Judge0      judge0.Config  `yaml:"judge0"`
	Runner      runner.Config  `yaml:"runner"`
	Aggregation string         `yaml:"aggregation"`
	Languages   map[string]int `yaml:"languages"`
}

// ContestConfig holds contest and leaderboard settings.
type ContestConfig struct {
	Scoring         leaderboard.ScoringConfig `yaml:"scoring"`
	Stream          controller.StreamConfig   `yaml:"stream"`
	ContestCacheTTL time.Duration             `yaml:"contestCacheTTL"`
	ProblemCacheTTL time.Duration             `yaml:"problemCacheTTL"`
}

// AppConfig holds arena-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Auth     AuthConfig          `yaml:"auth"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Judge    JudgeConfig         `yaml:"judge"`
	Contest  ContestConfig       `yaml:"contest"`
	Submit   SubmitConfig        `yaml:"submit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	// Pool settings absent from the file keep their package defaults.
	cfg := AppConfig{
		Database: *db.DefaultMySQLConfig(),
		Redis:    *cache.DefaultRedisConfig(),
	}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if cfg.Judge.Judge0.BaseURL == "" {
		return fmt.Errorf("judge0 baseURL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwtSecret is required")
	}
	if _, err := runner.ParsePolicy(cfg.Judge.Aggregation); err != nil {
		return err
	}
	if _, err := leaderboard.NewScoringPolicy(cfg.Contest.Scoring); err != nil {
		return err
	}

	if cfg.Auth.BlacklistTimeout == 0 {
		cfg.Auth.BlacklistTimeout = 500 * time.Millisecond
	}
	if cfg.Judge.Runner.MaxConcurrency == 0 {
		cfg.Judge.Runner.MaxConcurrency = 4
	}

	if cfg.Submit.MaxCodeBytes == 0 {
		cfg.Submit.MaxCodeBytes = 64 * 1024
	}
	if cfg.Submit.IdempotencyTTL == 0 {
		cfg.Submit.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Submit.SubmissionCacheTTL == 0 {
		cfg.Submit.SubmissionCacheTTL = 30 * time.Minute
	}
	if cfg.Submit.SubmissionEmptyTTL == 0 {
		cfg.Submit.SubmissionEmptyTTL = 5 * time.Minute
	}
	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.RateLimit.UserMax == 0 {
		cfg.Submit.RateLimit.UserMax = 30
	}
	if cfg.Submit.RateLimit.IPMax == 0 {
		cfg.Submit.RateLimit.IPMax = 60
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Submit.Timeouts.MQ == 0 {
		cfg.Submit.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Storage == 0 {
		cfg.Submit.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Submit.Timeouts.Leaderboard == 0 {
		cfg.Submit.Timeouts.Leaderboard = 2 * time.Second
	}
	if cfg.Submit.LeaderboardRetry.MaxAttempts == 0 {
		cfg.Submit.LeaderboardRetry = runner.RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Submit.EventTopic == "" {
		cfg.Submit.EventTopic = "submission.judged"
	}

	if cfg.Contest.ContestCacheTTL == 0 {
		cfg.Contest.ContestCacheTTL = 10 * time.Minute
	}
	if cfg.Contest.ProblemCacheTTL == 0 {
		cfg.Contest.ProblemCacheTTL = 10 * time.Minute
	}
	if cfg.Contest.Stream.PollInterval == 0 {
		cfg.Contest.Stream.PollInterval = time.Second
	}
	return nil
}
