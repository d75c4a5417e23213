// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/config"
)

// Influx writes telemetry as points to an InfluxDB 2 bucket.
type Influx struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
}

// NewInflux returns a sink for cfg.
func NewInflux(cfg config.Influx) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}
}

func (i *Influx) Name() string {
	return "influx"
}

// Publish writes t as one point.
func (i *Influx) Publish(ctx context.Context, t Telemetry) error {
	if err := i.writer.WritePoint(ctx, point(i.measurement, t)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (i *Influx) Close() error {
	i.client.Close()
	return nil
}

// point tags by station and serial so several sensors can share a bucket.
func point(measurement string, t Telemetry) *write.Point {
	tags := map[string]string{"station": t.StationID}
	if t.Serial != "" {
		tags["serial"] = t.Serial
	}
	return influxdb2.NewPoint(measurement, tags, map[string]interface{}{
		"temperature_c": t.TemperatureC,
		"temperature_f": t.TemperatureF,
		"humidity_pct":  t.HumidityPct,
	}, t.Timestamp)
}
