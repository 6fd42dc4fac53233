package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultListen          = "127.0.0.1:8095"
	defaultCacheDir        = "./data/cache"
	defaultPollSeconds     = 15
	defaultTimeoutSeconds  = 30
	defaultImageWorkers    = 4
	defaultBinaryQueueSize = 64

	envAPIURL   = "MODMIRROR_API_URL"
	envAPIKey   = "MODMIRROR_API_KEY"
	envCacheDir = "MODMIRROR_CACHE_DIR"
)

type APIConfig struct {
	URL            string `yaml:"url"`
	Key            string `yaml:"key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c *APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type PollConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

func (c *PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type DownloadConfig struct {
	ImageWorkers    int `yaml:"image_workers"`
	BinaryQueueSize int `yaml:"binary_queue_size"`
}

type Config struct {
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Poll     PollConfig     `yaml:"poll"`
	Download DownloadConfig `yaml:"download"`
}

func (c *Config) SetDefaults() {
	c.Listen = defaultListen
	c.LogLevel = LogLevelInfo
	c.API.TimeoutSeconds = defaultTimeoutSeconds
	c.Cache.Dir = defaultCacheDir
	c.Poll.IntervalSeconds = defaultPollSeconds
	c.Download.ImageWorkers = defaultImageWorkers
	c.Download.BinaryQueueSize = defaultBinaryQueueSize
}

// MustLoad reads the yaml config and applies .env/environment overrides.
// It panics on a missing or malformed file, the app cannot run without one.
func MustLoad(path string) *Config {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	cfg := &Config{}
	cfg.SetDefaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		panic(err)
	}

	if v := os.Getenv(envAPIURL); v != "" {
		cfg.API.URL = v
	}
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv(envCacheDir); v != "" {
		cfg.Cache.Dir = v
	}

	return cfg
}
