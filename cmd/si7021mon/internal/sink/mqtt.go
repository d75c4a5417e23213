// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/GermanBionicSystems/envsense/cmd/si7021mon/internal/config"
)

const publishTimeout = 5 * time.Second

// MQTT publishes telemetry as JSON to a broker topic.
type MQTT struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// NewMQTT returns a sink for cfg. Call Connect before publishing.
func NewMQTT(cfg config.MQTT, logger *slog.Logger) *MQTT {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	return &MQTT{client: mqtt.NewClient(opts), topic: cfg.Topic, logger: logger}
}

// Connect waits for the first connection to the broker, or for ctx.
func (m *MQTT) Connect(ctx context.Context) error {
	token := m.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Name() string {
	return "mqtt"
}

// Publish sends t with QoS 1, not retained.
func (m *MQTT) Publish(ctx context.Context, t Telemetry) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	token := m.client.Publish(m.topic, 1, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("publish timeout for topic %s", m.topic)
		}
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	m.logger.Debug("published telemetry", "topic", m.topic)
	return nil
}

// Close disconnects, letting in-flight messages finish for 250ms.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
