// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the si7021mon configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/envsense/si7021"
)

// Config holds all si7021mon settings.
type Config struct {
	LogLevel slog.Level

	// I²C bus name as understood by i2creg.Open. Empty selects the first bus.
	Bus          string
	Address      uint16
	ReadTimeout  time.Duration
	PollInterval time.Duration
	ValidateCRC  bool
	StationID    string

	MQTT   MQTT
	Influx Influx
}

// MQTT configures the MQTT telemetry sink. An empty Broker disables it.
type MQTT struct {
	Broker   string
	Port     int
	ClientID string
	Topic    string
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

// Influx configures the InfluxDB sink. An empty URL disables it.
type Influx struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Enabled reports whether a server is configured.
func (i Influx) Enabled() bool {
	return i.URL != ""
}

// DriverOpts returns the driver options matching c.
func (c Config) DriverOpts() *si7021.Opts {
	opts := si7021.DefaultOpts
	opts.Addr = c.Address
	opts.ReadTimeout = c.ReadTimeout
	opts.ValidateCRC = c.ValidateCRC
	return &opts
}

// LoadFromEnv reads the configuration from the process environment.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load reads the configuration through getenv, applying defaults for unset
// variables.
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var cfg Config
	var err error

	if cfg.LogLevel, err = ParseLogLevel(get("LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}

	cfg.Bus = get("I2C_BUS", "")
	addrStr := get("SI7021_ADDRESS", "0x40")
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SI7021_ADDRESS %q: %w", addrStr, err)
	}
	if addr > 0x7f {
		return Config{}, fmt.Errorf("invalid SI7021_ADDRESS %q: not a 7 bit address", addrStr)
	}
	cfg.Address = uint16(addr)

	// 0 keeps the driver's unbounded wait.
	if cfg.ReadTimeout, err = parseDuration("READ_TIMEOUT", get("READ_TIMEOUT", "500ms")); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout < 0 {
		return Config{}, fmt.Errorf("READ_TIMEOUT must not be negative, got %v", cfg.ReadTimeout)
	}
	if cfg.PollInterval, err = parseDuration("POLL_INTERVAL", get("POLL_INTERVAL", "10s")); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive, got %v", cfg.PollInterval)
	}

	crcStr := get("VALIDATE_CRC", "false")
	if cfg.ValidateCRC, err = strconv.ParseBool(crcStr); err != nil {
		return Config{}, fmt.Errorf("invalid VALIDATE_CRC %q: %w", crcStr, err)
	}
	cfg.StationID = get("STATION_ID", "home")

	cfg.MQTT.Broker = get("MQTT_BROKER", "")
	portStr := get("MQTT_PORT", "1883")
	if cfg.MQTT.Port, err = strconv.Atoi(portStr); err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", portStr, err)
	}
	if cfg.MQTT.Port <= 0 || cfg.MQTT.Port > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d", cfg.MQTT.Port)
	}
	cfg.MQTT.ClientID = get("MQTT_CLIENT_ID", "si7021mon-"+cfg.StationID)
	cfg.MQTT.Topic = get("MQTT_TOPIC", "stations/"+cfg.StationID+"/telemetry")

	cfg.Influx.URL = get("INFLUX_URL", "")
	cfg.Influx.Token = get("INFLUX_TOKEN", "")
	cfg.Influx.Org = get("INFLUX_ORG", "")
	cfg.Influx.Bucket = get("INFLUX_BUCKET", "")
	cfg.Influx.Measurement = get("INFLUX_MEASUREMENT", "si7021")
	if cfg.Influx.Enabled() && (cfg.Influx.Org == "" || cfg.Influx.Bucket == "") {
		return Config{}, fmt.Errorf("INFLUX_ORG and INFLUX_BUCKET are required with INFLUX_URL")
	}
	return cfg, nil
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}
