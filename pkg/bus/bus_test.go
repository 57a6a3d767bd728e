package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mahaj/dupahar-support/pkg/model"
)

func TestLocalDeliversToRunningSubscribers(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan model.Event, 4)
	done := make(chan struct{})
	go func() {
		l.Run(ctx, func(_ context.Context, ev model.Event) { got <- ev })
		close(done)
	}()

	// Run registers asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		l.mu.RLock()
		n := len(l.handlers)
		l.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	l.Publish(context.Background(), "c1", model.Event{Type: model.EventNewMessage})
	if ev := <-got; ev.ChannelID != "c1" || ev.Type != model.EventNewMessage {
		t.Fatalf("got %+v", ev)
	}

	cancel()
	<-done
	l.Publish(context.Background(), "c1", model.Event{Type: model.EventTyping})
	select {
	case ev := <-got:
		t.Fatalf("stopped subscriber got %+v", ev)
	default:
	}
}

func TestKafkaMessageIsKeyedByChannel(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := kafkaMessage("c42", model.Event{Type: model.EventChannelStatusChanged, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	if string(m.Key) != "c42" || !m.Time.Equal(ts) {
		t.Fatalf("message = %+v", m)
	}
	ev, err := decode(m.Value)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ChannelID != "c42" || ev.Type != model.EventChannelStatusChanged {
		t.Fatalf("decoded %+v", ev)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	for _, payload := range []string{`not json`, `{"type":"new_message"}`} {
		if _, err := decode([]byte(payload)); err == nil {
			t.Errorf("decode(%s) succeeded", payload)
		}
	}
}

func TestChannelFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		id    string
		ok    bool
	}{
		{Topic("abc"), "abc", true},
		{"support/channels//events", "", false},
		{"support/channels/a/b/events", "", false},
		{"other/abc/events", "", false},
		{"support/channels/abc", "", false},
	}
	for _, tt := range tests {
		id, ok := channelFromTopic(tt.topic)
		if id != tt.id || ok != tt.ok {
			t.Errorf("channelFromTopic(%q) = %q, %v", tt.topic, id, ok)
		}
	}
}

func TestOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := Open(Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Publisher.(*Local); !ok {
		t.Fatalf("default backend = %T", b.Publisher)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Options{Backend: "carrier-pigeon"}, logger); err == nil {
		t.Fatal("unknown backend accepted")
	}
	if _, err := Open(Options{Backend: BackendKafka}, logger); err == nil {
		t.Fatal("kafka without brokers accepted")
	}
}

func TestConnectMQTTFailsWhenBrokerIsDown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errc := make(chan error, 1)
	go func() {
		_, err := ConnectMQTT("tcp://127.0.0.1:1", "test-client", logger)
		errc <- err
	}()
	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("connected to a closed port")
		}
	case <-time.After(3 * connectTimeout):
		t.Fatal("ConnectMQTT did not give up")
	}
}
