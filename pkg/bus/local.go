package bus

import (
	"context"
	"sync"

	"github.com/mahaj/dupahar-support/pkg/model"
)

// Local is an in-process bus for running the API and gateway together.
type Local struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

// Publish calls every running subscriber synchronously.
func (l *Local) Publish(ctx context.Context, channelID string, ev model.Event) error {
	ev.ChannelID = channelID
	l.mu.RLock()
	hs := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		hs = append(hs, h)
	}
	l.mu.RUnlock()
	for _, h := range hs {
		h(ctx, ev)
	}
	return nil
}

func (l *Local) Run(ctx context.Context, h Handler) error {
	l.mu.Lock()
	id := l.next
	l.next++
	l.handlers[id] = h
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.handlers, id)
	l.mu.Unlock()
	return nil
}
