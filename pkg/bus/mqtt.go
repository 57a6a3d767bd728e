package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mahaj/dupahar-support/pkg/model"
)

const (
	topicPrefix = "support/channels/"
	topicSuffix = "/events"

	// Typing indicators and fan-out events tolerate loss.
	qos byte = 0

	publishTimeout = 5 * time.Second
	connectTimeout = 5 * time.Second
)

// Topic is the MQTT topic carrying events of one channel.
func Topic(channelID string) string { return topicPrefix + channelID + topicSuffix }

func channelFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicPrefix) || !strings.HasSuffix(topic, topicSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, topicPrefix), topicSuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

type MQTT struct {
	client mqtt.Client
	logger *slog.Logger
}

func ConnectMQTT(brokerURL, clientID string, logger *slog.Logger) (*MQTT, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("bus: MQTT broker URL is empty")
	}
	if clientID == "" {
		clientID = "support-" + fmt.Sprint(time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", brokerURL, "client_id", clientID)
	}

	// The first connect fails fast; AutoReconnect only covers later drops.
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(2 * connectTimeout) {
		return nil, fmt.Errorf("bus: mqtt connect to %s timed out", brokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("bus: mqtt connect: %w", err)
	}
	return &MQTT{client: c, logger: logger}, nil
}

func (m *MQTT) Publish(ctx context.Context, channelID string, ev model.Event) error {
	payload, err := encode(channelID, ev)
	if err != nil {
		return err
	}
	tok := m.client.Publish(Topic(channelID), qos, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("bus: mqtt publish to %s timed out", channelID)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("bus: mqtt publish: %w", err)
	}
	return nil
}

// Run subscribes to every channel topic until ctx is cancelled.
func (m *MQTT) Run(ctx context.Context, h Handler) error {
	filter := topicPrefix + "+" + topicSuffix
	tok := m.client.Subscribe(filter, qos, func(_ mqtt.Client, msg mqtt.Message) {
		id, ok := channelFromTopic(msg.Topic())
		if !ok {
			return
		}
		ev, err := decode(msg.Payload())
		if err != nil || ev.ChannelID != id {
			m.logger.Warn("skipping mqtt message", "topic", msg.Topic(), "error", err)
			return
		}
		h(ctx, ev)
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("bus: mqtt subscribe: %w", err)
	}
	<-ctx.Done()
	m.client.Unsubscribe(filter).WaitTimeout(publishTimeout)
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
