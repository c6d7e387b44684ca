package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the retained-topic store
type MQTTConfig struct {
	Broker      string // host:port
	ClientID    string
	TopicPrefix string // every path is published under {prefix}/{path}
	QoS         byte
	Timeout     time.Duration
}

// MQTT is a Store that keeps each path as a retained message on
// {prefix}/{path}. Reads are served from a local mirror fed by a
// subscription to {prefix}/#, so Get never waits on the broker.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	mirror *Memory

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTT creates the store. Call Connect before use.
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	return &MQTT{cfg: cfg, mirror: NewMemory()}
}

// Connect establishes the broker connection and subscribes to the mirror topic
func (s *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Resubscribe on every (re)connect: retained messages refill the mirror
	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		topic := s.cfg.TopicPrefix + "/#"
		token := c.Subscribe(topic, s.cfg.QoS, s.onMessage)
		if !token.WaitTimeout(s.cfg.Timeout) || token.Error() != nil {
			slog.Error("mqtt sink subscribe failed",
				"topic", topic,
				"error", token.Error(),
			)
			return
		}
		slog.Info("mqtt sink connected",
			"broker", s.cfg.Broker,
			"client_id", s.cfg.ClientID,
			"mirror_topic", topic,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		slog.Warn("mqtt sink connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker,
		)
	}

	s.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", s.cfg.Broker)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (s *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	path := strings.TrimPrefix(msg.Topic(), s.cfg.TopicPrefix+"/")
	if err := s.mirror.setRaw(path, msg.Payload()); err != nil {
		slog.Debug("mqtt sink ignored non-JSON message", "topic", msg.Topic(), "error", err)
	}
}

func (s *MQTT) Get(ctx context.Context, path string, v any) error {
	return s.mirror.Get(ctx, path, v)
}

func (s *MQTT) Set(ctx context.Context, path string, v any) error {
	var payload []byte
	if v != nil {
		var err error
		if payload, err = json.Marshal(v); err != nil {
			return fmt.Errorf("failed to marshal %s: %w", path, err)
		}
	}
	if err := s.publish(ctx, path, payload); err != nil {
		return err
	}
	// Mirror locally so a Get right after Set sees our own write
	return s.mirror.setRaw(path, payload)
}

func (s *MQTT) Update(ctx context.Context, path string, fields map[string]any) error {
	for k, v := range fields {
		if err := s.Set(ctx, joinPath(path, k), v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MQTT) Push(ctx context.Context, path string, v any) (string, error) {
	key := uuid.NewString()
	if err := s.Set(ctx, joinPath(path, key), v); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MQTT) publish(ctx context.Context, path string, payload []byte) error {
	if !s.isConnected() {
		s.countError()
		return ErrNotConnected
	}

	topic := s.cfg.TopicPrefix + "/" + strings.Trim(path, "/")
	token := s.client.Publish(topic, s.cfg.QoS, true, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		s.countError()
		return ctx.Err()
	case <-time.After(s.cfg.Timeout):
		s.countError()
		return fmt.Errorf("publish timeout: %s", topic)
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	return nil
}

// Close disconnects from the broker
func (s *MQTT) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		slog.Info("mqtt sink disconnected")
	}
	s.setConnected(false)
	return nil
}

// Stats returns published/error counters.
func (s *MQTT) Stats() (published, errors uint64, connected bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published, s.errors, s.connected
}

func (s *MQTT) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTT) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTT) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}
