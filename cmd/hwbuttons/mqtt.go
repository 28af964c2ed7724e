package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"hwbuttons/internal/buttons"
)

// ============================================================================
// MQTT bridge
// ============================================================================
// Topics (under mqtt.prefix):
//
//   <prefix>/status                      "online" / "offline" (retained, last will)
//   <prefix>/button/<binding>/<gesture>  one message per classified gesture
//
// Remote feature actions with a topic transport publish a buttons.RemotePayload to
// their configured topic.
// ============================================================================

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttDisconnectQuiesce = 250 // ms
)

type mqttGesture struct {
	Binding    string    `json:"binding"`
	Line       int       `json:"line"`
	Gesture    string    `json:"gesture"`
	ActionID   string    `json:"action_id"`
	Generation uint64    `json:"generation"`
	At         time.Time `json:"at"`
}

type mqttBridge struct {
	client      mqtt.Client
	prefix      string
	statusTopic string
	logger      *slog.Logger
}

// newMQTTBridge connects to the broker and announces availability.
func newMQTTBridge(cfg MQTTConfig, logger *slog.Logger) (*mqttBridge, error) {
	b := &mqttBridge{
		prefix:      cfg.Prefix,
		statusTopic: cfg.Prefix + "/status",
		logger:      logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetWill(b.statusTopic, "offline", 1, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
		c.Publish(b.statusTopic, 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return b, nil
}

func (b *mqttBridge) gestureTopic(binding, gesture string) string {
	return fmt.Sprintf("%s/button/%s/%s", b.prefix, binding, gesture)
}

// PublishGesture publishes ev without waiting for the broker.
func (b *mqttBridge) PublishGesture(ev buttons.GestureEvent, action string) {
	payload, err := json.Marshal(mqttGesture{
		Binding:    ev.BindingID,
		Line:       ev.Line,
		Gesture:    ev.Kind.String(),
		ActionID:   action,
		Generation: ev.Generation,
		At:         ev.At.UTC(),
	})
	if err != nil {
		b.logger.Error("encode gesture", "error", err)
		return
	}

	topic := b.gestureTopic(ev.BindingID, ev.Kind.String())
	token := b.client.Publish(topic, 0, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			b.logger.Warn("gesture publish failed", "topic", topic, "error", err)
		}
	}()
}

// ActionFunc returns a registry callback that publishes a RemotePayload to topic and
// waits for the broker to accept it.
func (b *mqttBridge) ActionFunc(name, topic string) buttons.ActionFunc {
	return func(ctx context.Context, actx buttons.ActionContext) error {
		payload, err := json.Marshal(buttons.BuildRemotePayload(name, actx))
		if err != nil {
			return fmt.Errorf("remote action %s: encode: %w", name, err)
		}

		token := b.client.Publish(topic, 1, false, payload)
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				return fmt.Errorf("remote action %s: publish %s: %w", name, topic, err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close marks the bridge offline and disconnects.
func (b *mqttBridge) Close() {
	if b.client.IsConnected() {
		token := b.client.Publish(b.statusTopic, 1, true, "offline")
		token.WaitTimeout(time.Second)
	}
	b.client.Disconnect(mqttDisconnectQuiesce)
	b.logger.Info("mqtt disconnected")
}
