// Package bus carries channel events between the API and gateway
// processes. Every backend is best effort: a lost event is recovered by
// clients from the ordered message log.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

const (
	BackendLocal = "local"
	BackendKafka = "kafka"
	BackendMQTT  = "mqtt"
)

// Handler receives every event read from the bus.
type Handler func(ctx context.Context, ev model.Event)

// Subscriber delivers bus events to h until ctx is cancelled.
type Subscriber interface {
	Run(ctx context.Context, h Handler) error
}

// Options selects and configures a backend.
type Options struct {
	Backend string

	KafkaBrokers []string
	KafkaTopic   string
	// GroupID must be unique per gateway instance so that every instance
	// sees every event.
	GroupID string

	MQTTBroker string
	ClientID   string
}

// Bus is an opened backend.
type Bus struct {
	Publisher  support.Publisher
	Subscriber Subscriber
	close      func() error
}

func (b *Bus) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects the backend named by opts.Backend. The local backend only
// reaches subscribers in the same process.
func Open(opts Options, logger *slog.Logger) (*Bus, error) {
	switch opts.Backend {
	case "", BackendLocal:
		l := NewLocal()
		return &Bus{Publisher: l, Subscriber: l}, nil

	case BackendKafka:
		if len(opts.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("bus: kafka backend needs at least one broker")
		}
		pub := NewKafkaPublisher(opts.KafkaBrokers, opts.KafkaTopic, logger)
		sub := NewKafkaSubscriber(opts.KafkaBrokers, opts.KafkaTopic, opts.GroupID, logger)
		return &Bus{Publisher: pub, Subscriber: sub, close: pub.Close}, nil

	case BackendMQTT:
		m, err := ConnectMQTT(opts.MQTTBroker, opts.ClientID, logger)
		if err != nil {
			return nil, err
		}
		return &Bus{Publisher: m, Subscriber: m, close: m.Close}, nil
	}
	return nil, fmt.Errorf("bus: unknown backend %q", opts.Backend)
}

func encode(channelID string, ev model.Event) ([]byte, error) {
	ev.ChannelID = channelID
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("bus: encode %s: %w", ev.Type, err)
	}
	return payload, nil
}

func decode(payload []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.Event{}, fmt.Errorf("bus: decode event: %w", err)
	}
	if ev.ChannelID == "" {
		return model.Event{}, fmt.Errorf("bus: event %s without channel_id", ev.Type)
	}
	return ev, nil
}
