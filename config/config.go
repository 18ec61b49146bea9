package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/krehermann/bytevm/vm"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	KeyStackSize     = "stack_size"
	KeyStepLimit     = "step_limit"
	KeyCheckInterval = "check_interval"
	KeyListenAddr    = "listen_addr"
	KeyLogLevel      = "log_level"
	KeySnapshotFile  = "snapshot_file"

	EnvPrefix = "BYTEVM"
)

type Config struct {
	StackSize     int    `mapstructure:"stack_size"`
	StepLimit     int    `mapstructure:"step_limit"`
	CheckInterval int    `mapstructure:"check_interval"`
	ListenAddr    string `mapstructure:"listen_addr"`
	LogLevel      string `mapstructure:"log_level"`
	// SnapshotFile persists the server's program store across restarts.
	SnapshotFile string `mapstructure:"snapshot_file"`
}

func Default() Config {
	return Config{
		StackSize:     vm.DefaultStackSize,
		StepLimit:     0,
		CheckInterval: vm.DefaultCheckInterval,
		ListenAddr:    ":8080",
		LogLevel:      "info",
	}
}

// SetDefaults registers defaults and environment binding on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyStackSize, d.StackSize)
	v.SetDefault(KeyStepLimit, d.StepLimit)
	v.SetDefault(KeyCheckInterval, d.CheckInterval)
	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeySnapshotFile, d.SnapshotFile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file and decodes v into a Config.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.StackSize < 1 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyStackSize, c.StackSize))
	}
	if c.StepLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyStepLimit, c.StepLimit))
	}
	if c.CheckInterval < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyCheckInterval, c.CheckInterval))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}
	return errors.Join(errs...)
}

// VMOpts translates the execution settings into vm options.
func (c Config) VMOpts() []vm.VMOpt {
	return []vm.VMOpt{
		vm.StackSizeOpt(c.StackSize),
		vm.StepLimitOpt(c.StepLimit),
		vm.CheckIntervalOpt(c.CheckInterval),
	}
}

// Logger builds the process logger for the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
