// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with precedence
// ENV > YAML file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"VY_LOG_LEVEL" envDefault:"info"`

	API struct {
		ListenAddr      string        `yaml:"listen_addr" env:"VY_LISTEN" envDefault:":8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" env:"VY_READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"VY_WRITE_TIMEOUT" envDefault:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"VY_SHUTDOWN_TIMEOUT" envDefault:"20s"`
		RateLimitRPM    int           `yaml:"rate_limit_rpm" env:"VY_RATE_LIMIT_RPM" envDefault:"60"`
	} `yaml:"api"`

	Metrics struct {
		Enabled    bool   `yaml:"enabled" env:"VY_METRICS_ENABLED" envDefault:"true"`
		ListenAddr string `yaml:"listen_addr" env:"VY_METRICS_ADDR" envDefault:":9090"`
	} `yaml:"metrics"`

	Pipeline struct {
		FFmpegBin      string        `yaml:"ffmpeg_bin" env:"VY_FFMPEG_BIN" envDefault:"ffmpeg"`
		HLSRoot        string        `yaml:"hls_root" env:"VY_HLS_ROOT" envDefault:"/var/lib/guardd/hls"`
		TickInterval   time.Duration `yaml:"tick_interval" env:"VY_TICK_INTERVAL" envDefault:"10s"`
		CaptureTimeout time.Duration `yaml:"capture_timeout" env:"VY_CAPTURE_TIMEOUT" envDefault:"8s"`
		StopGrace      time.Duration `yaml:"stop_grace" env:"VY_STOP_GRACE" envDefault:"5s"`
	} `yaml:"pipeline"`

	Detection struct {
		Endpoint string        `yaml:"endpoint" env:"VY_DETECTION_ENDPOINT" envDefault:"http://localhost:8001"`
		Timeout  time.Duration `yaml:"timeout" env:"VY_DETECTION_TIMEOUT" envDefault:"10s"`
	} `yaml:"detection"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"VY_DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"VY_MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"VY_MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"VY_MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"VY_MINIO_BUCKET" envDefault:"snapshots"`
		UseSSL    bool   `yaml:"use_ssl" env:"VY_MINIO_SSL" envDefault:"false"`
	} `yaml:"minio"`

	Redis struct {
		Addr     string `yaml:"addr" env:"VY_REDIS_ADDR"`
		Password string `yaml:"password" env:"VY_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"VY_REDIS_DB" envDefault:"0"`
		Channel  string `yaml:"channel" env:"VY_REDIS_CHANNEL" envDefault:"vy:detections"`
	} `yaml:"redis"`
}

// Load reads the optional YAML file at path (ignored when empty), then
// applies environment variables on top and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime failures.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.Pipeline.TickInterval))
	}
	if c.Pipeline.CaptureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture timeout must be positive, got %s", c.Pipeline.CaptureTimeout))
	}
	if c.Detection.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("detection timeout must be positive, got %s", c.Detection.Timeout))
	}
	if c.Detection.Endpoint == "" {
		errs = append(errs, errors.New("detection endpoint must be set"))
	}
	if c.Pipeline.HLSRoot == "" {
		errs = append(errs, errors.New("hls root must be set"))
	}
	if c.Minio.Endpoint != "" && (c.Minio.AccessKey == "" || c.Minio.SecretKey == "") {
		errs = append(errs, errors.New("minio endpoint set but credentials missing"))
	}

	return errors.Join(errs...)
}
