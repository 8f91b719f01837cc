package broadcast

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTChannel publishes payloads to per-kind MQTT topics, mirroring the
// topic layout local gateway devices subscribe to.
type MQTTChannel struct {
	client mqtt.Client
	topics map[Kind]string
}

// NewMQTTChannel connects to the broker and maps kinds onto
// <prefix>/sensors/data, <prefix>/alerts, <prefix>/system/status, and
// <prefix>/commands.
func NewMQTTChannel(brokerURL, clientID, topicPrefix string) (*MQTTChannel, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timeout", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}

	return &MQTTChannel{
		client: client,
		topics: map[Kind]string{
			KindSensorData:   topicPrefix + "/sensors/data",
			KindAlert:        topicPrefix + "/alerts",
			KindSystemStatus: topicPrefix + "/system/status",
			KindCommand:      topicPrefix + "/commands",
		},
	}, nil
}

func (m *MQTTChannel) Name() string { return "mqtt" }

func (m *MQTTChannel) Kinds() []Kind {
	return []Kind{KindSensorData, KindAlert, KindSystemStatus, KindCommand}
}

func (m *MQTTChannel) Publish(ctx context.Context, kind Kind, payload []byte) error {
	topic, ok := m.topics[kind]
	if !ok {
		return fmt.Errorf("no topic for kind %q", kind)
	}

	token := m.client.Publish(topic, 1, false, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTTChannel) Close() error {
	m.client.Disconnect(250)
	return nil
}
