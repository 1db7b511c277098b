// Package model defines test cases, plans, executor states and the configuration tree.
package model

import (
	"path/filepath"
	"time"
)

type Config struct {
	DataDir      string             `yaml:"data_dir" mapstructure:"data_dir"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Client       ClientConfig       `yaml:"client" mapstructure:"client"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Metadata     MetadataConfig     `yaml:"metadata" mapstructure:"metadata"`
	Bindings     BindingsConfig     `yaml:"bindings" mapstructure:"bindings"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
}

type ServerConfig struct {
	Host           string `yaml:"host" mapstructure:"host"`
	Port           int    `yaml:"port" mapstructure:"port"`
	SingleSession  bool   `yaml:"single_session" mapstructure:"single_session"`
	ReadTimeoutSec int    `yaml:"read_timeout_sec" mapstructure:"read_timeout_sec"`
}

type ClientConfig struct {
	ConnectAttempts    int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
	ConnectBackoffMs   int `yaml:"connect_backoff_ms" mapstructure:"connect_backoff_ms"`
	ResponseTimeoutSec int `yaml:"response_timeout_sec" mapstructure:"response_timeout_sec"` // 0 waits forever
}

type OrchestratorConfig struct {
	ReportResults  bool   `yaml:"report_results" mapstructure:"report_results"`
	BuildName      string `yaml:"build_name" mapstructure:"build_name"`
	ManualExecutor string `yaml:"manual_executor" mapstructure:"manual_executor"`
	ReportPath     string `yaml:"report_path" mapstructure:"report_path"`
}

type MetadataConfig struct {
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	Fixtures string `yaml:"fixtures" mapstructure:"fixtures"`
}

type BindingsConfig struct {
	File    string `yaml:"file" mapstructure:"file"`
	Default string `yaml:"default" mapstructure:"default"`
	Watch   bool   `yaml:"watch" mapstructure:"watch"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

const (
	DefaultPort             = 59168
	DefaultConnectAttempts  = 3
	DefaultConnectBackoffMs = 1500
	DefaultDataDir          = ".tcexec"
)

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Client.ConnectAttempts <= 0 {
		c.Client.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Client.ConnectBackoffMs <= 0 {
		c.Client.ConnectBackoffMs = DefaultConnectBackoffMs
	}
	if c.Metadata.DSN == "" {
		c.Metadata.DSN = filepath.Join(c.DataDir, "metadata.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c ClientConfig) ConnectBackoff() time.Duration {
	return time.Duration(c.ConnectBackoffMs) * time.Millisecond
}

func (c ClientConfig) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutSec) * time.Second
}
