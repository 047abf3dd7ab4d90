package config

import "time"

// Defaults returns a configuration with every optional setting filled in.
// The controller address and token have no default.
func Defaults() *Config {
	return &Config{
		Wiser: WiserConfig{
			Timeout:      Duration(10 * time.Second),
			Retries:      2,
			RateLimitRPS: 10,
		},
		Bridge: BridgeConfig{
			VendorID:        0xFFF1,
			VendorName:      "Feller AG",
			IdentifyPattern: "ramp",
			IdentifyColor:   "#505050",
		},
		Poller: PollerConfig{
			Enabled:  true,
			Interval: Duration(time.Minute),
		},
		MQTT: MQTTConfig{
			Host:          "127.0.0.1",
			Port:          1883,
			ClientID:      "wiserd",
			TopicPrefix:   "wiserd",
			QoS:           1,
			MaxBackoff:    Duration(2 * time.Minute),
			StateDebounce: Duration(100 * time.Millisecond),
		},
		Database: DatabaseConfig{Path: "./wiserd.sqlite"},
		Ledger: LedgerConfig{
			CleanupInterval: Duration(24 * time.Hour),
			RetentionDays:   30,
		},
		Log: LogConfig{Level: "info", Colors: true},
		Healthcheck: HealthcheckConfig{
			Host: "0.0.0.0",
			Port: 9090,
		},
		ShutdownTimeout: Duration(5 * time.Second),
	}
}
