package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the file and environment configuration of the CLI.
//
//	# storeweave.yaml
//	journal: ./storeweave.db
//	format: json
//	log_level: info
type Config struct {
	Journal  string `mapstructure:"journal"`
	Format   string `mapstructure:"format"`
	LogLevel string `mapstructure:"log_level"`
	Verbose  bool   `mapstructure:"verbose"`
}

// configKeys maps config keys to the persistent flags they back.
var configKeys = map[string]string{
	"journal":   "db",
	"format":    "format",
	"log_level": "log-level",
	"verbose":   "verbose",
}

// newViper builds the viper instance for a command: defaults come from the
// flag defaults, then the config file, then STOREWEAVE_* env vars, then
// explicitly set flags.
func newViper(cmd *cobra.Command, path string) (*viper.Viper, error) {
	v := viper.New()

	for key, flag := range configKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	v.SetEnvPrefix("STOREWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storeweave")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default file is fine; an explicit --config must exist.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// loadConfig resolves the effective configuration into opts.
func loadConfig(cmd *cobra.Command, opts *RootOptions) error {
	v, err := newViper(cmd, opts.Config)
	if err != nil {
		return err
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	opts.Journal = c.Journal
	opts.Format = c.Format
	opts.LogLevel = c.LogLevel
	opts.Verbose = c.Verbose
	return nil
}
