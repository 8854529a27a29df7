package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"device-hub/internal/models"
)

// announce is the JSON payload wearables publish on the announce topic.
type announce struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Type models.DeviceType `json:"type"`
}

// MQTTTransport is the production Transport: wearables announce themselves
// on a shared topic and stream readings on a per-device topic.
type MQTTTransport struct {
	client        mqtt.Client
	announceTopic string
	dataTopic     string // printf pattern with one %s for the device id

	mu       sync.Mutex
	handlers map[string]func(models.HealthDataPoint)

	log *zap.Logger
}

// NewMQTTTransport connects to the broker.
func NewMQTTTransport(broker, clientID, announceTopic, dataTopic string, log *zap.Logger) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return &MQTTTransport{
		client:        client,
		announceTopic: announceTopic,
		dataTopic:     dataTopic,
		handlers:      make(map[string]func(models.HealthDataPoint)),
		log:           log,
	}, nil
}

// Scan listens on the announce topic for at most duration and returns every
// distinct device heard.
func (t *MQTTTransport) Scan(ctx context.Context, duration time.Duration) ([]models.Device, error) {
	var mu sync.Mutex
	seen := make(map[string]models.Device)

	token := t.client.Subscribe(t.announceTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a announce
		if err := json.Unmarshal(msg.Payload(), &a); err != nil || a.ID == "" {
			t.log.Debug("ignoring malformed announce", zap.Error(err))
			return
		}
		if a.Type == "" {
			a.Type = models.DeviceWearable
		}
		mu.Lock()
		seen[a.ID] = models.Device{ID: a.ID, Name: a.Name, Type: a.Type, LastSeen: time.Now()}
		mu.Unlock()
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("scan subscribe: %w", err)
	}
	defer t.client.Unsubscribe(t.announceTopic)

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]models.Device, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out, nil
}

// Connect subscribes to the device's data topic.
func (t *MQTTTransport) Connect(ctx context.Context, deviceID string) error {
	topic := fmt.Sprintf(t.dataTopic, deviceID)
	token := t.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p models.HealthDataPoint
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			t.log.Warn("dropping undecodable reading", zap.String("device", deviceID), zap.Error(err))
			return
		}
		t.mu.Lock()
		fn := t.handlers[deviceID]
		t.mu.Unlock()
		if fn != nil {
			fn(p)
		}
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Disconnect unsubscribes from the device's data topic.
func (t *MQTTTransport) Disconnect(deviceID string) error {
	topic := fmt.Sprintf(t.dataTopic, deviceID)
	t.mu.Lock()
	delete(t.handlers, deviceID)
	t.mu.Unlock()

	token := t.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// Stream registers the inbound reading handler for a device.
func (t *MQTTTransport) Stream(deviceID string, fn func(models.HealthDataPoint)) error {
	t.mu.Lock()
	t.handlers[deviceID] = fn
	t.mu.Unlock()
	return nil
}

// Close tears down the broker connection.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
