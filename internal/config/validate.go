package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration marks a configuration that cannot be used to start the bridge.
var ErrConfiguration = errors.New("configuration error")

// Validate reports every missing or out-of-range setting at once.
// Each returned error wraps ErrConfiguration.
func (cfg *Config) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...))
		}
	}

	check(strings.TrimSpace(cfg.Wiser.Address) != "", "wiser.address is required")
	check(strings.TrimSpace(cfg.Wiser.Token) != "", "wiser.token is required")
	check(cfg.Wiser.Retries >= 0, "wiser.retries must not be negative")
	check(cfg.Wiser.RateLimitRPS >= 0, "wiser.rate_limit_rps must not be negative")
	check(cfg.Wiser.Timeout > 0, "wiser.timeout must be positive")
	check(cfg.Poller.Interval > 0, "poller.interval must be positive")
	check(cfg.Ledger.CleanupInterval > 0, "ledger.cleanup_interval must be positive")

	if cfg.MQTT.Enabled {
		check(cfg.MQTT.QoS >= 0 && cfg.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		check(cfg.MQTT.Port > 0 && cfg.MQTT.Port < 65536, "mqtt.port %d is out of range", cfg.MQTT.Port)
		check(strings.Trim(cfg.MQTT.TopicPrefix, "/") != "", "mqtt.topic_prefix is required")
	}

	return errors.Join(problems...)
}
