// This file defines the configuration structure for the application.
package config

import (
	// use Viper for loading the config.yml file.
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port   int `mapstructure:"port"`
	Server struct {
		URL   string `mapstructure:"url"`
		WsURL string `mapstructure:"ws_url"`
	} `mapstructure:"server"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Watch struct {
		Path        string `mapstructure:"path"`
		AutoAnalyze bool   `mapstructure:"auto_analyze"`
	} `mapstructure:"watch"`
	Reconnect struct {
		BaseDelaySeconds int `mapstructure:"base_delay_seconds"`
		MaxAttempts      int `mapstructure:"max_attempts"`
	} `mapstructure:"reconnect"`
	ReconcileInterval int `mapstructure:"reconcile_interval"` // minutes, 0 disables the reconcile job
}

// ReconnectBaseDelay returns the reconnect backoff base as a duration.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Reconnect.BaseDelaySeconds) * time.Second
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or "yaml"
	viper.AddConfigPath(".")      // looking for config in the current directory

	// --- Environment Variable Overrides ---
	// This tells Viper to look for environment variables with a "MVC_" prefix.
	// e.g., MVC_DATABASE_PATH will override the `database.path` key.
	viper.SetEnvPrefix("MVC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("port", 8910)
	viper.SetDefault("server.url", "http://localhost:8000")
	viper.SetDefault("server.ws_url", "ws://localhost:8000/ws")
	viper.SetDefault("database.path", "./mvcsync.db")
	viper.SetDefault("watch.path", "")
	viper.SetDefault("watch.auto_analyze", true)
	viper.SetDefault("reconnect.base_delay_seconds", 3)
	viper.SetDefault("reconnect.max_attempts", 5)
	viper.SetDefault("reconcile_interval", 5)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
