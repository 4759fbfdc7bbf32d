package config

import (
	"fmt"
	"time"
)

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Lock     LockConfig     `yaml:"lock"`
	Convert  ConvertConfig  `yaml:"convert"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sentry   SentryConfig   `yaml:"sentry"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig describes the S3-compatible endpoint (MinIO, R2, AWS).
type StoreConfig struct {
	Endpoint    string `yaml:"endpoint" validate:"required"`
	AccessKey   string `yaml:"access_key" validate:"required"`
	SecretKey   string `yaml:"secret_key" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	Region      string `yaml:"region" validate:"required"`
	Secure      bool   `yaml:"secure"`
	MaxAttempts int    `yaml:"max_attempts" validate:"gte=0,lte=20"` // SDK retryer attempts, 0 = SDK default
}

// BaseURL returns the endpoint with a scheme. Endpoints that already carry one are left alone.
func (s StoreConfig) BaseURL() string {
	if hasScheme(s.Endpoint) {
		return s.Endpoint
	}
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Endpoint)
}

type LockConfig struct {
	LeaseTTL       time.Duration `yaml:"lease_ttl" validate:"gte=0"`       // negative in the file disables stale-lock reclaim
	VerifyOwner    *bool         `yaml:"verify_owner"`                     // re-read tags after acquiring
	ReleaseTimeout time.Duration `yaml:"release_timeout" validate:"gte=0"` // budget for the release round-trip
}

// Verify reports whether acquisitions are confirmed by re-reading the tag set.
func (l LockConfig) Verify() bool {
	return l.VerifyOwner == nil || *l.VerifyOwner
}

type ConvertConfig struct {
	LegacyExtensions  []string `yaml:"legacy_extensions" validate:"min=1,dive,startswith=."`
	TargetExtensions  []string `yaml:"target_extensions" validate:"min=1,dive,startswith=."`
	TargetContentType string   `yaml:"target_content_type" validate:"required"`
	Quality           int      `yaml:"quality" validate:"gte=1,lte=100"`
	RewriteAnywhere   bool     `yaml:"rewrite_anywhere"` // replace the legacy token anywhere in the key
}

type DispatchConfig struct {
	Workers    int           `yaml:"workers" validate:"gte=0"` // 0 = half the CPUs
	JobTimeout time.Duration `yaml:"job_timeout" validate:"gte=0"` // negative in the file disables the per-job timeout
}

type RedisConfig struct {
	Password     string        `yaml:"password"`
	DatabaseID   int           `yaml:"database_id"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Nodes        []RedisNode   `yaml:"nodes" validate:"dive"`
	Stream       string        `yaml:"stream"`  // results stream name
	MaxLen       int64         `yaml:"max_len"` // approximate stream cap
}

// Enabled reports whether result publishing is configured.
func (r RedisConfig) Enabled() bool { return len(r.Nodes) > 0 }

type RedisNode struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gt=0,lte=65535"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job"`
}

type SentryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}
