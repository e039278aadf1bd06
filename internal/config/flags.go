package config

import (
	"os"

	"github.com/spf13/pflag"
)

// Flags are the command-line overrides shared by every command.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string
	Addr       string
	Driver     string
	LogLevel   string
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.Addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.Driver, "store", "", "event store driver: memory, postgres, dynamodb or badger")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level")
	return f
}

// Load reads the config file named by --config, applies the environment
// and then any flags that were set explicitly.
func (f *Flags) Load() (*Config, error) {
	cfg, err := read(f.ConfigPath, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if f.fs.Changed("addr") {
		cfg.HTTP.Addr = f.Addr
	}
	if f.fs.Changed("store") {
		cfg.Store.Driver = f.Driver
	}
	if f.fs.Changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
