package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alfredjeanlab/lambdaq/internal/model"
)

type Config struct {
	HTTPAddr    string // LAMBDAQ_HTTP_ADDR (default ":9001")
	GRPCAddr    string // LAMBDAQ_GRPC_ADDR (default ":9090"; empty = gRPC disabled)
	FunctionARN string // LAMBDAQ_FUNCTION_ARN (default synthetic ARN)
	NATSURL     string // LAMBDAQ_NATS_URL (optional, empty = no bus events)
	DatabaseURL string // LAMBDAQ_DATABASE_URL (optional, empty = no history)

	InvocationTimeout time.Duration // LAMBDAQ_INVOCATION_TIMEOUT (default 15m)
	PollTimeout       time.Duration // LAMBDAQ_POLL_TIMEOUT (default 30s; 0 = wait for the client)

	LogLevel  string // LAMBDAQ_LOG_LEVEL (default "info")
	LogFormat string // LAMBDAQ_LOG_FORMAT (default "text")

	// Export settings
	ExportInterval   time.Duration // LAMBDAQ_EXPORT_INTERVAL (default 0 = disabled)
	ExportS3Bucket   string        // LAMBDAQ_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Key      string        // LAMBDAQ_EXPORT_S3_KEY (default "lambdaq/events.jsonl")
	ExportS3Region   string        // LAMBDAQ_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Endpoint string        // LAMBDAQ_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportGitRepo    string        // LAMBDAQ_EXPORT_GIT_REPO (local clone; enables git when set)
	ExportGitFile    string        // LAMBDAQ_EXPORT_GIT_FILE (default "lambdaq.jsonl")
	ExportGitBranch  string        // LAMBDAQ_EXPORT_GIT_BRANCH (default "main")

	// Completion hooks (need NATS)
	HookOnSuccess string        // LAMBDAQ_HOOK_ON_SUCCESS (shell command)
	HookOnFailure string        // LAMBDAQ_HOOK_ON_FAILURE (shell command)
	HookTimeout   time.Duration // LAMBDAQ_HOOK_TIMEOUT (default 30s)
}

// fileConfig mirrors Config for the optional TOML file named by
// LAMBDAQ_CONFIG. Durations are strings ("15m").
type fileConfig struct {
	HTTPAddr          string  `toml:"http_addr"`
	GRPCAddr          *string `toml:"grpc_addr"`
	FunctionARN       string  `toml:"function_arn"`
	NATSURL           string  `toml:"nats_url"`
	DatabaseURL       string  `toml:"database_url"`
	InvocationTimeout string  `toml:"invocation_timeout"`
	PollTimeout       string  `toml:"poll_timeout"`
	LogLevel          string  `toml:"log_level"`
	LogFormat         string  `toml:"log_format"`

	Export struct {
		Interval   string `toml:"interval"`
		S3Bucket   string `toml:"s3_bucket"`
		S3Key      string `toml:"s3_key"`
		S3Region   string `toml:"s3_region"`
		S3Endpoint string `toml:"s3_endpoint"`
		GitRepo    string `toml:"git_repo"`
		GitFile    string `toml:"git_file"`
		GitBranch  string `toml:"git_branch"`
	} `toml:"export"`

	Hooks struct {
		OnSuccess string `toml:"on_success"`
		OnFailure string `toml:"on_failure"`
		Timeout   string `toml:"timeout"`
	} `toml:"hooks"`
}

// Load builds the configuration from defaults, then the TOML file named by
// LAMBDAQ_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:          ":9001",
		GRPCAddr:          ":9090",
		FunctionARN:       model.DefaultFunctionARN,
		InvocationTimeout: 15 * time.Minute,
		PollTimeout:       30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
		ExportS3Key:       "lambdaq/events.jsonl",
		ExportS3Region:    "us-east-1",
		ExportGitFile:     "lambdaq.jsonl",
		ExportGitBranch:   "main",
		HookTimeout:       30 * time.Second,
	}

	if path := os.Getenv("LAMBDAQ_CONFIG"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}

	c.HTTPAddr = envOrDefault("LAMBDAQ_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("LAMBDAQ_GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}
	c.FunctionARN = envOrDefault("LAMBDAQ_FUNCTION_ARN", c.FunctionARN)
	c.NATSURL = envOrDefault("LAMBDAQ_NATS_URL", c.NATSURL)
	c.DatabaseURL = envOrDefault("LAMBDAQ_DATABASE_URL", c.DatabaseURL)
	c.LogLevel = envOrDefault("LAMBDAQ_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LAMBDAQ_LOG_FORMAT", c.LogFormat)
	c.ExportS3Bucket = envOrDefault("LAMBDAQ_EXPORT_S3_BUCKET", c.ExportS3Bucket)
	c.ExportS3Key = envOrDefault("LAMBDAQ_EXPORT_S3_KEY", c.ExportS3Key)
	c.ExportS3Region = envOrDefault("LAMBDAQ_EXPORT_S3_REGION", c.ExportS3Region)
	c.ExportS3Endpoint = envOrDefault("LAMBDAQ_EXPORT_S3_ENDPOINT", c.ExportS3Endpoint)
	c.ExportGitRepo = envOrDefault("LAMBDAQ_EXPORT_GIT_REPO", c.ExportGitRepo)
	c.ExportGitFile = envOrDefault("LAMBDAQ_EXPORT_GIT_FILE", c.ExportGitFile)
	c.ExportGitBranch = envOrDefault("LAMBDAQ_EXPORT_GIT_BRANCH", c.ExportGitBranch)
	c.HookOnSuccess = envOrDefault("LAMBDAQ_HOOK_ON_SUCCESS", c.HookOnSuccess)
	c.HookOnFailure = envOrDefault("LAMBDAQ_HOOK_ON_FAILURE", c.HookOnFailure)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"LAMBDAQ_INVOCATION_TIMEOUT", &c.InvocationTimeout},
		{"LAMBDAQ_POLL_TIMEOUT", &c.PollTimeout},
		{"LAMBDAQ_EXPORT_INTERVAL", &c.ExportInterval},
		{"LAMBDAQ_HOOK_TIMEOUT", &c.HookTimeout},
	} {
		if err := parseDuration(d.key, os.Getenv(d.key), d.dst); err != nil {
			return nil, err
		}
	}

	if c.HTTPAddr == "" {
		return nil, fmt.Errorf("LAMBDAQ_HTTP_ADDR must not be empty")
	}
	if c.InvocationTimeout <= 0 {
		return nil, fmt.Errorf("LAMBDAQ_INVOCATION_TIMEOUT must be positive")
	}
	if c.PollTimeout < 0 || c.ExportInterval < 0 || c.HookTimeout < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}

	return c, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&c.HTTPAddr, fc.HTTPAddr)
	if fc.GRPCAddr != nil {
		c.GRPCAddr = *fc.GRPCAddr
	}
	setIf(&c.FunctionARN, fc.FunctionARN)
	setIf(&c.NATSURL, fc.NATSURL)
	setIf(&c.DatabaseURL, fc.DatabaseURL)
	setIf(&c.LogLevel, fc.LogLevel)
	setIf(&c.LogFormat, fc.LogFormat)
	setIf(&c.ExportS3Bucket, fc.Export.S3Bucket)
	setIf(&c.ExportS3Key, fc.Export.S3Key)
	setIf(&c.ExportS3Region, fc.Export.S3Region)
	setIf(&c.ExportS3Endpoint, fc.Export.S3Endpoint)
	setIf(&c.ExportGitRepo, fc.Export.GitRepo)
	setIf(&c.ExportGitFile, fc.Export.GitFile)
	setIf(&c.ExportGitBranch, fc.Export.GitBranch)
	setIf(&c.HookOnSuccess, fc.Hooks.OnSuccess)
	setIf(&c.HookOnFailure, fc.Hooks.OnFailure)

	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"invocation_timeout", fc.InvocationTimeout, &c.InvocationTimeout},
		{"poll_timeout", fc.PollTimeout, &c.PollTimeout},
		{"export.interval", fc.Export.Interval, &c.ExportInterval},
		{"hooks.timeout", fc.Hooks.Timeout, &c.HookTimeout},
	} {
		if err := parseDuration(path+": "+d.key, d.val, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration leaves dst untouched when s is empty.
func parseDuration(name, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
