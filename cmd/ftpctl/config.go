package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ftpkit/ftp"
)

const (
	envPrefix = "FTPCTL"

	// DefaultParallel is the number of connections mget uses by default.
	DefaultParallel = 4

	// DefaultLogLevel keeps protocol traffic out of the terminal.
	DefaultLogLevel = "warn"
)

// settings is the effective ftpctl configuration after merging defaults,
// the config file, FTPCTL_* environment variables and flags.
type settings struct {
	Server         string        `mapstructure:"server"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	BandwidthLimit int64         `mapstructure:"bandwidth_limit"`
	StaleCheck     bool          `mapstructure:"stale_check"`
	Parallel       int           `mapstructure:"parallel"`
	LogLevel       string        `mapstructure:"log_level"`
	MetricsFile    string        `mapstructure:"metrics_file"`
}

// flagKeys maps configuration keys to the flags that override them.
var flagKeys = map[string]string{
	"server":          "server",
	"user":            "user",
	"password":        "password",
	"timeout":         "timeout",
	"chunk_size":      "chunk-size",
	"bandwidth_limit": "bandwidth-limit",
	"stale_check":     "stale-check",
	"parallel":        "parallel",
	"log_level":       "log-level",
	"metrics_file":    "metrics-file",
}

// newViper creates a viper instance with defaults and environment lookup.
// The config file is read later by readConfig, once flags are parsed.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server", "")
	v.SetDefault("user", "")
	v.SetDefault("password", "")
	v.SetDefault("timeout", ftp.DefaultTimeout)
	v.SetDefault("chunk_size", ftp.DefaultChunkSize)
	v.SetDefault("bandwidth_limit", 0)
	v.SetDefault("stale_check", true)
	v.SetDefault("parallel", DefaultParallel)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics_file", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// bindFlags binds every known flag in flags to its configuration key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// readConfig loads path, or ~/.config/ftpctl/config.yaml when path is
// empty. Only an explicitly named file has to exist.
func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.AddConfigPath(filepath.Join(home, ".config", "ftpctl"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func loadSettings(v *viper.Viper) (*settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *settings) validate() error {
	switch {
	case s.Timeout < 0:
		return fmt.Errorf("timeout must not be negative")
	case s.ChunkSize <= 0:
		return fmt.Errorf("chunk_size must be positive, got %d", s.ChunkSize)
	case s.BandwidthLimit < 0:
		return fmt.Errorf("bandwidth_limit must not be negative")
	case s.Parallel <= 0:
		return fmt.Errorf("parallel must be positive, got %d", s.Parallel)
	}
	return nil
}

// loginURL builds the URL passed to ftp.ConnectURL. A server without a
// scheme is plain FTP; configured credentials replace any in the URL.
func (s *settings) loginURL() (string, error) {
	if s.Server == "" {
		return "", errors.New("no server configured: pass --server or set server in the config file")
	}

	raw := s.Server
	if !strings.Contains(raw, "://") {
		raw = "ftp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server %q: %w", s.Server, err)
	}
	if s.User != "" {
		u.User = url.UserPassword(s.User, s.Password)
	}
	return u.String(), nil
}

// printable is the YAML view of settings printed by "ftpctl config".
type printable struct {
	Server         string `yaml:"server"`
	User           string `yaml:"user,omitempty"`
	Password       string `yaml:"password,omitempty"`
	Timeout        string `yaml:"timeout"`
	ChunkSize      int    `yaml:"chunk_size"`
	BandwidthLimit int64  `yaml:"bandwidth_limit"`
	StaleCheck     bool   `yaml:"stale_check"`
	Parallel       int    `yaml:"parallel"`
	LogLevel       string `yaml:"log_level"`
	MetricsFile    string `yaml:"metrics_file,omitempty"`
	ConfigFile     string `yaml:"config_file,omitempty"`
}

func (s *settings) printable(configFile string) printable {
	p := printable{
		Server:         s.Server,
		User:           s.User,
		Timeout:        s.Timeout.String(),
		ChunkSize:      s.ChunkSize,
		BandwidthLimit: s.BandwidthLimit,
		StaleCheck:     s.StaleCheck,
		Parallel:       s.Parallel,
		LogLevel:       s.LogLevel,
		MetricsFile:    s.MetricsFile,
		ConfigFile:     configFile,
	}
	if s.Password != "" {
		p.Password = "***"
	}
	return p
}
