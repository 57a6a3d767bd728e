package support

import (
	"context"
	"sync"
)

// channelLocks serializes work per channel id. Entries are dropped once no
// goroutine holds or waits on them, so idle channels cost nothing.
type channelLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{m: make(map[string]*lockEntry)}
}

// lock waits for the channel's lock or for ctx to end, whichever is first.
func (l *channelLocks) lock(ctx context.Context, id string) (unlock func(), err error) {
	l.mu.Lock()
	e := l.m[id]
	if e == nil {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(id, e)
		})
	}, nil
}

func (l *channelLocks) release(id string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, id)
	}
	l.mu.Unlock()
}
