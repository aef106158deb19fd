package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	configData Config
	configFile string
	v          *viper.Viper
)

// Strategies for acquiring interpreter context on a host thread.
const (
	StrategyAuto  = "auto"
	StrategyFresh = "fresh"
)

// Dispatch modes for running a scoped call.
const (
	DispatchDirect = "direct"
	DispatchWorker = "worker"
)

// Config holds all configuration settings.
type Config struct {
	// Interpreter configuration
	Interpreter struct {
		Strategy    string
		Dispatch    string
		ProgramName string `mapstructure:"program_name"`
		Debug       string
		Path        string
	}
	// Render configuration
	Render struct {
		Threads int
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system.
func Initialize() error {
	v = viper.New()

	// Set config name and paths
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")         // name of config file (without extension)
		v.SetConfigType("yaml")           // config file type
		v.AddConfigPath(".")              // optionally look for config in working directory
		v.AddConfigPath("$HOME/.procgen") // look for config in .procgen directory in home
		v.AddConfigPath("/etc/procgen/")  // path to look for the config file in
	}

	// Set default values
	setDefaults()

	// Environment variables
	v.SetEnvPrefix("PROCGEN") // prefix for env vars
	v.AutomaticEnv()          // read in environment variables that match
	v.SetEnvKeyReplacer(      // replace dots with underscores in env vars
		strings.NewReplacer(".", "_"),
	)
	// Short env names for the two settings read at interpreter startup.
	if err := v.BindEnv("interpreter.debug", "PROCGEN_DEBUG"); err != nil {
		return fmt.Errorf("error binding env: %w", err)
	}
	if err := v.BindEnv("interpreter.path", "PROCGEN_PATH"); err != nil {
		return fmt.Errorf("error binding env: %w", err)
	}

	// Read in config file
	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return load()
}

// load decodes and validates the viper state into configData.
func load() error {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	configData = c

	return nil
}

// SetFile makes Initialize read path instead of searching the config paths.
// A missing file is then an error.
func SetFile(path string) {
	configFile = path
}

// Reload re-reads configuration after flags were bound.
func Reload() error {
	if v == nil {
		return Initialize()
	}

	return load()
}

// setDefaults sets default values for all configuration options.
func setDefaults() {
	// Interpreter defaults
	v.SetDefault("interpreter.strategy", StrategyAuto)
	v.SetDefault("interpreter.dispatch", DispatchDirect)
	v.SetDefault("interpreter.program_name", "procgen")
	v.SetDefault("interpreter.debug", "0")
	v.SetDefault("interpreter.path", "")

	// Render defaults
	v.SetDefault("render.threads", 4)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Interpreter.Strategy {
	case StrategyAuto, StrategyFresh:
	default:
		return fmt.Errorf("invalid interpreter.strategy %q", c.Interpreter.Strategy)
	}
	switch c.Interpreter.Dispatch {
	case DispatchDirect, DispatchWorker:
	default:
		return fmt.Errorf("invalid interpreter.dispatch %q", c.Interpreter.Dispatch)
	}
	switch c.Log.Format {
	case "json", "human":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	if c.Render.Threads < 1 {
		return fmt.Errorf("render.threads must be positive, got %d", c.Render.Threads)
	}

	return nil
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
