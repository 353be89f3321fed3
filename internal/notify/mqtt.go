package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

// MQTTSink publishes alert decisions to <topic>/<camera_id> so home
// automation can subscribe per camera.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &MQTTSink{client: client, topic: cfg.Topic}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(_ context.Context, decision models.AlertDecision) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("not connected to mqtt broker")
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", s.topic, decision.CameraID)
	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	return token.Error()
}

func (s *MQTTSink) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
