// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// si7021mon probes an Si7021 humidity and temperature sensor, reads it once
// or polls it and publishes every reading to MQTT and InfluxDB.
//
// Configuration comes from the environment (see package config); -bus and
// -crc override I2C_BUS and VALIDATE_CRC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/config"
	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/logging"
	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/monitor"
	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/sink"
	"github.com/GermanBionicSystems/envsense/si7021"
)

func mainImpl() error {
	mode := flag.String("mode", "read", "probe, read or watch")
	bus := flag.String("bus", "", "I²C bus to use, overrides I2C_BUS")
	crc := flag.Bool("crc", false, "validate measurement checksums, overrides VALIDATE_CRC")
	heater := flag.String("heater", "", "turn the on-chip heater on or off before measuring")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bus":
			cfg.Bus = *bus
		case "crc":
			cfg.ValidateCRC = *crc
		}
	})

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if _, err := host.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return err
	}
	defer b.Close()

	dev, err := si7021.NewI2C(b, cfg.DriverOpts())
	if err != nil {
		return err
	}
	defer dev.Halt()

	switch *heater {
	case "":
	case "on", "off":
		if err := dev.SetHeater(*heater == "on"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid -heater %q, want on or off", *heater)
	}

	switch *mode {
	case "probe":
		return probe(dev, cfg.ReadTimeout)
	case "read":
		r, err := dev.HumidityAndTemperature()
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", dev, r)
		return nil
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch(ctx, dev, cfg, logger)
	default:
		return fmt.Errorf("invalid -mode %q", *mode)
	}
}

func probe(dev *si7021.Dev, timeout time.Duration) error {
	sn, err := dev.SerialNumber(timeout)
	if err != nil {
		return err
	}
	reg, err := dev.UserRegister(timeout)
	if err != nil {
		return err
	}
	fmt.Printf("%s: present\n", dev)
	fmt.Printf("  serial: %s\n", sn)
	fmt.Printf("  model:  %s\n", sn.Model())
	fmt.Printf("  user register: 0x%02X\n", reg)
	return nil
}

func watch(ctx context.Context, dev *si7021.Dev, cfg config.Config, logger *slog.Logger) error {
	var sinks []sink.Sink
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("closing sink", "sink", s.Name(), "error", err)
			}
		}
	}()
	if cfg.MQTT.Enabled() {
		m := sink.NewMQTT(cfg.MQTT, logger)
		if err := m.Connect(ctx); err != nil {
			return err
		}
		sinks = append(sinks, m)
	}
	if cfg.Influx.Enabled() {
		sinks = append(sinks, sink.NewInflux(cfg.Influx))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, &sink.Log{Logger: logger})
	}

	serial := ""
	if sn, err := dev.SerialNumber(cfg.ReadTimeout); err != nil {
		logger.Warn("reading serial number", "error", err)
	} else {
		serial = sn.String()
	}

	logger.Info("watching", "device", dev.String(), "interval", cfg.PollInterval, "sinks", len(sinks))
	m := &monitor.Monitor{
		Reader:    dev,
		Sinks:     sinks,
		Logger:    logger,
		StationID: cfg.StationID,
		Serial:    serial,
	}
	if err := m.Run(ctx, cfg.PollInterval); !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "si7021mon: %s.\n", err)
		os.Exit(1)
	}
}
