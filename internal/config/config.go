package config

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPreferenceFile = ".config/capyshell/mpris.json"

	defaultSettleDelay        = 300 * time.Millisecond
	defaultSecondFetchDelay   = 500 * time.Millisecond
	defaultCommandSettleDelay = 200 * time.Millisecond
	defaultIdleTimeout        = 5 * time.Second
	defaultReconnectDelay     = 500 * time.Millisecond
	defaultNoPlayerPoll       = 2 * time.Second
)

// AppConfig holds application configuration
type AppConfig struct {
	logger *zap.Logger

	preferencePath     string
	settleDelay        time.Duration
	secondFetchDelay   time.Duration
	commandSettleDelay time.Duration
	idleTimeout        time.Duration
	reconnectDelay     time.Duration
	noPlayerPoll       time.Duration
}

// NewAppConfig creates a new application configuration instance.
// All settings come from environment variables with sane defaults.
func NewAppConfig(logger *zap.Logger) *AppConfig {
	prefPath := os.Getenv("CAPYSHELL_PREFERENCE_FILE")
	if prefPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		prefPath = filepath.Join(home, defaultPreferenceFile)
	}

	// Expand path if it contains ~ or environment variables
	prefPath = os.ExpandEnv(prefPath)
	if len(prefPath) > 0 && prefPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			prefPath = filepath.Join(home, prefPath[1:])
		}
	}

	cfg := &AppConfig{
		logger:             logger,
		preferencePath:     prefPath,
		settleDelay:        envDuration(logger, "CAPYSHELL_SETTLE_DELAY", defaultSettleDelay),
		secondFetchDelay:   envDuration(logger, "CAPYSHELL_SECOND_FETCH_DELAY", defaultSecondFetchDelay),
		commandSettleDelay: envDuration(logger, "CAPYSHELL_COMMAND_SETTLE_DELAY", defaultCommandSettleDelay),
		idleTimeout:        envDuration(logger, "CAPYSHELL_IDLE_TIMEOUT", defaultIdleTimeout),
		reconnectDelay:     envDuration(logger, "CAPYSHELL_RECONNECT_DELAY", defaultReconnectDelay),
		noPlayerPoll:       envDuration(logger, "CAPYSHELL_NO_PLAYER_POLL", defaultNoPlayerPoll),
	}

	logger.Info("Configuration loaded",
		zap.String("preferenceFile", cfg.preferencePath),
		zap.Duration("idleTimeout", cfg.idleTimeout),
		zap.Duration("commandSettleDelay", cfg.commandSettleDelay))

	return cfg
}

// envDuration reads a duration from the environment, falling back to def
// when the variable is unset or unparsable
func envDuration(logger *zap.Logger, key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("Invalid duration in environment, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Duration("default", def))
		return def
	}
	return d
}

// PreferencePath returns the favorite-source file location
func (c *AppConfig) PreferencePath() string {
	return c.preferencePath
}

// SettleDelay returns the delay before the first fetch of a session
func (c *AppConfig) SettleDelay() time.Duration {
	return c.settleDelay
}

// SecondFetchDelay returns the delay before the repeated initial fetch
func (c *AppConfig) SecondFetchDelay() time.Duration {
	return c.secondFetchDelay
}

// CommandSettleDelay returns the delay between a command and its refetch
func (c *AppConfig) CommandSettleDelay() time.Duration {
	return c.commandSettleDelay
}

// IdleTimeout returns the quiet period before a liveness probe
func (c *AppConfig) IdleTimeout() time.Duration {
	return c.idleTimeout
}

// ReconnectDelay returns the pause between session end and rediscovery
func (c *AppConfig) ReconnectDelay() time.Duration {
	return c.reconnectDelay
}

// NoPlayerPollInterval returns the discovery poll period while idle
func (c *AppConfig) NoPlayerPollInterval() time.Duration {
	return c.noPlayerPoll
}
