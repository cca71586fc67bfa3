// Package config holds the settings of one merklediff run, merged by viper
// from flags, MERKLEDIFF_* environment variables and an optional file.
package config

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/juanpablocruz/merklediff/pkg/digest"
)

const EnvPrefix = "MERKLEDIFF"

const (
	LogConsole = "console"
	LogJSON    = "json"
)

type Config struct {
	// Exactly one of Server and Client is set.
	Server string `mapstructure:"server"`
	Client string `mapstructure:"client"`

	BlockSize  int64  `mapstructure:"block-size"`
	Digest     string `mapstructure:"digest"`
	CoarseOnly bool   `mapstructure:"coarse-only"`
	ExitCode   bool   `mapstructure:"exit-code"`

	DialTimeout time.Duration `mapstructure:"dial-timeout"`
	Workers     int           `mapstructure:"workers"`
	Progress    bool          `mapstructure:"progress"`
	MetricsAddr string        `mapstructure:"metrics-addr"`

	Verbose   bool   `mapstructure:"verbose"`
	LogFormat string `mapstructure:"log-format"`
}

func DefaultConfig() Config {
	return Config{
		BlockSize:   1 << 20,
		Digest:      digest.SHA256,
		DialTimeout: 10 * time.Second,
		Workers:     runtime.NumCPU(),
		LogFormat:   LogConsole,
	}
}

// Load reads the file named by the "config" key, if any, and decodes every
// known key into a Config seeded with the defaults.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch {
	case c.Server == "" && c.Client == "":
		errs = append(errs, errors.New("one of --server or --client is required"))
	case c.Server != "" && c.Client != "":
		errs = append(errs, errors.New("--server and --client are mutually exclusive"))
	}
	for _, addr := range []string{c.Server, c.Client, c.MetricsAddr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("address %q: %w", addr, err))
		}
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size must be positive, got %d", c.BlockSize))
	}
	if _, err := digest.ByName(c.Digest); err != nil {
		errs = append(errs, err)
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.LogFormat != LogConsole && c.LogFormat != LogJSON {
		errs = append(errs, fmt.Errorf("log format must be %s or %s, got %q", LogConsole, LogJSON, c.LogFormat))
	}
	return errors.Join(errs...)
}

// IsServer reports whether this run listens for the peer.
func (c Config) IsServer() bool { return c.Server != "" }

// Addr is the address to listen on or to dial.
func (c Config) Addr() string {
	if c.IsServer() {
		return c.Server
	}
	return c.Client
}
