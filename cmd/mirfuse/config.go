package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the mirfuse configuration file
// (~/.config/mirfuse/config.yaml). CLI flags take precedence over config
// values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Pipeline defaults
	Rules            []string          `yaml:"rules"`
	QuantizedOpTypes []string          `yaml:"quantized_op_types"`
	DynamicQuantOps  map[string]string `yaml:"dynamic_quant_ops"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mirfuse", "config.yaml")
}

func loadConfig() (Config, error) {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var fileConfig Config

// applyConfig folds config file defaults into flag-backed variables when the
// corresponding flag was not set explicitly.
func applyConfig(cmd *cli.Command, cfg Config) {
	fileConfig = cfg
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
