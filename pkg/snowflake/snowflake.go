// Package snowflake generates time-ordered 64-bit message ids. Ids from one
// node are strictly increasing; across nodes they only roughly follow wall
// time, which is why channels order messages by Seq and not by id.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits

	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1704067200000
)

type Node struct {
	mu   sync.Mutex
	now  func() time.Time
	time int64
	node int64
	step int64
}

type Option func(*Node)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

func NewNode(node int64, opts ...Option) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake: node number must be between 0 and %d, got %d", nodeMax, node)
	}
	n := &Node{node: node, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UnixMilli()

	// Never go backwards: reuse the last millisecond and keep stepping.
	if now < n.time {
		now = n.time
	}

	if now == n.time {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// Step space exhausted for this millisecond; borrow the next one.
			now = n.time + 1
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the millisecond timestamp embedded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch).UTC()
}

// NodeOf extracts the node number embedded in id.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}
