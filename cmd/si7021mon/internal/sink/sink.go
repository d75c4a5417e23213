// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sink delivers si7021 readings to telemetry backends.
package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/GermanBionicSystems/envsense/si7021"
)

// Telemetry is one reading as published by the sinks.
type Telemetry struct {
	StationID    string    `json:"station_id"`
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC float64   `json:"temperature_c"`
	TemperatureF float64   `json:"temperature_f"`
	HumidityPct  float64   `json:"humidity_pct"`
	Serial       string    `json:"serial,omitempty"`
}

// FromReading converts a driver reading.
func FromReading(stationID, serial string, r si7021.Reading, ts time.Time) Telemetry {
	return Telemetry{
		StationID:    stationID,
		Timestamp:    ts,
		TemperatureC: float64(r.CentiCelsius) / 100,
		TemperatureF: float64(r.CentiFahrenheit) / 100,
		HumidityPct:  float64(r.HumidityBasisPoints) / 100,
		Serial:       serial,
	}
}

// Sink publishes telemetry.
type Sink interface {
	Name() string
	Publish(ctx context.Context, t Telemetry) error
	Close() error
}

// Log is a Sink that only logs readings.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Name() string {
	return "log"
}

func (l *Log) Publish(_ context.Context, t Telemetry) error {
	l.Logger.Info("reading",
		"station_id", t.StationID,
		"temperature_c", t.TemperatureC,
		"temperature_f", t.TemperatureF,
		"humidity_pct", t.HumidityPct)
	return nil
}

func (l *Log) Close() error {
	return nil
}
