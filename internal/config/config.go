// Package config loads the sweeper configuration from an optional YAML file,
// applies defaults and environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBucket         = "ingest"
	DefaultRegion         = "us-east-1"
	DefaultLeaseTTL       = time.Hour
	DefaultReleaseTimeout = 30 * time.Second
	DefaultJobTimeout     = 10 * time.Minute
	DefaultQuality        = 90
	DefaultStream         = "object-ingest:results"
	DefaultStreamMaxLen   = 10000
	DefaultMetricsJob     = "object_ingest"
)

// Environment variables recognised on top of the file.
const (
	EnvEndpoint  = "MINIO_ENDPOINT"
	EnvAccessKey = "ACCESS_KEY"
	EnvSecretKey = "SECRET_KEY"
	EnvBucket    = "BUCKET"
	EnvRegion    = "STORE_REGION"
	EnvSecure    = "STORE_SECURE"
)

// Create new config instance with defaults applied
func NewConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path (skipped when path is empty), then applies
// defaults and environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		if err := c.Read(path); err != nil {
			return nil, err
		}
	}
	c.applyDefaults()
	c.applyEnv(os.LookupEnv)
	return c, nil
}

// Read decodes a YAML configuration file into c.
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks struct constraints and returns a readable error listing every violation.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Namespace(), describe(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte", "lte", "gt", "min":
		return "out of allowed range"
	case "startswith":
		return "must start with " + e.Param()
	case "oneof":
		return "must be one of " + e.Param()
	default:
		return "invalid value"
	}
}

func (c *Config) applyDefaults() {
	if c.Store.Bucket == "" {
		c.Store.Bucket = DefaultBucket
	}
	if c.Store.Region == "" {
		c.Store.Region = DefaultRegion
	}
	if c.Lock.LeaseTTL == 0 {
		c.Lock.LeaseTTL = DefaultLeaseTTL
	}
	if c.Lock.LeaseTTL < 0 {
		// explicit negative value in the file means "never expire"
		c.Lock.LeaseTTL = 0
	}
	if c.Lock.ReleaseTimeout == 0 {
		c.Lock.ReleaseTimeout = DefaultReleaseTimeout
	}
	if len(c.Convert.LegacyExtensions) == 0 {
		c.Convert.LegacyExtensions = []string{".heic", ".heif"}
	}
	if len(c.Convert.TargetExtensions) == 0 {
		c.Convert.TargetExtensions = []string{".jpg", ".jpeg"}
	}
	if c.Convert.TargetContentType == "" {
		c.Convert.TargetContentType = "image/jpeg"
	}
	if c.Convert.Quality == 0 {
		c.Convert.Quality = DefaultQuality
	}
	if c.Dispatch.JobTimeout == 0 {
		c.Dispatch.JobTimeout = DefaultJobTimeout
	}
	if c.Dispatch.JobTimeout < 0 {
		c.Dispatch.JobTimeout = 0
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = DefaultStream
	}
	if c.Redis.MaxLen == 0 {
		c.Redis.MaxLen = DefaultStreamMaxLen
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	set(EnvEndpoint, &c.Store.Endpoint)
	set(EnvAccessKey, &c.Store.AccessKey)
	set(EnvSecretKey, &c.Store.SecretKey)
	set(EnvBucket, &c.Store.Bucket)
	set(EnvRegion, &c.Store.Region)
	if v, ok := lookup(EnvSecure); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Store.Secure = b
		}
	}
}

func hasScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
