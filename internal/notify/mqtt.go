// Package notify publishes test state changes to an MQTT broker so that
// dashboards and test rigs can follow a run without polling the API.
//
// Each test has one retained topic "{prefix}/tests/{id}/state" holding the
// latest state as JSON.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"autocmx/internal/config"
	"autocmx/internal/ingest"
)

var _ ingest.Notifier = (*MQTT)(nil)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
	qosAtLeastOnce = 1
)

// publisher is the subset of paho.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTT implements ingest.Notifier over a paho client.
type MQTT struct {
	client publisher
	prefix string
	log    *slog.Logger
}

// Connect dials the configured broker. The client reconnects on its own
// after the first successful connection.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker URL is required")
	}
	log := logger.WithGroup("mqtt")

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("autocmx-%d", time.Now().UnixNano())
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(func(paho.Client) {
			log.Info("connected to broker", "broker", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("connection to broker lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	return newMQTT(client, cfg.TopicPrefix, logger), nil
}

func newMQTT(client publisher, prefix string, logger *slog.Logger) *MQTT {
	return &MQTT{client: client, prefix: prefix, log: logger.WithGroup("mqtt")}
}

// Topic is the state topic of one test.
func Topic(prefix, testID string) string {
	return prefix + "/tests/" + testID + "/state"
}

// Notify publishes c as a retained message on the test's state topic.
func (n *MQTT) Notify(ctx context.Context, c ingest.StateChange) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}

	topic := Topic(n.prefix, c.TestID)
	token := n.client.Publish(topic, qosAtLeastOnce, true, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish %s: timeout", topic)
	}

	n.log.Debug("published state change", "topic", topic, "state", c.State)
	return nil
}

func (n *MQTT) Close() {
	n.client.Disconnect(250)
}
