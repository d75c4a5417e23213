// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package monitor polls a sensor and fans readings out to sinks.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/sink"
	"github.com/GermanBionicSystems/envsense/si7021"
)

// Reader returns one combined measurement.
type Reader interface {
	HumidityAndTemperature() (si7021.Reading, error)
}

// Monitor publishes a reading to every sink on each tick.
type Monitor struct {
	Reader    Reader
	Sinks     []sink.Sink
	Logger    *slog.Logger
	StationID string
	Serial    string

	now func() time.Time
}

// Poll reads the sensor once and publishes the result. A publish failure on
// one sink does not prevent delivery to the others.
func (m *Monitor) Poll(ctx context.Context) error {
	r, err := m.Reader.HumidityAndTemperature()
	if err != nil {
		return err
	}
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	t := sink.FromReading(m.StationID, m.Serial, r, now().UTC())
	for _, s := range m.Sinks {
		if err := s.Publish(ctx, t); err != nil {
			m.Logger.Error("publish failed", "sink", s.Name(), "error", err)
		}
	}
	return nil
}

// Run polls immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.Poll(ctx); err != nil {
			m.Logger.Warn("reading failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
