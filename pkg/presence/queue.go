package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/dupahar-support/pkg/model"
)

const queueKey = "platform:queue"

// weightSpan separates priority bands in the score; it exceeds any unix
// millisecond timestamp this system will see.
const weightSpan = 1e13

// QueueEntry is one channel waiting for platform support.
type QueueEntry struct {
	ChannelID string
	Priority  model.TicketPriority
	Since     time.Time
}

// score orders entries by priority, then by how long they have waited. A
// higher score is served first.
func score(p model.TicketPriority, since time.Time) float64 {
	return float64(p.Weight())*weightSpan + (weightSpan - float64(since.UnixMilli()))
}

func unscore(s float64) (model.TicketPriority, time.Time) {
	band := int(s / weightSpan)
	ms := int64(weightSpan - (s - float64(band)*weightSpan))
	p := model.PriorityLow
	for _, c := range []model.TicketPriority{model.PriorityMedium, model.PriorityHigh, model.PriorityUrgent} {
		if c.Weight() == band {
			p = c
		}
	}
	return p, time.UnixMilli(ms).UTC()
}

// PlatformQueue is the Redis sorted set platform support works from.
type PlatformQueue struct {
	rdb *redis.Client
}

func NewPlatformQueue(rdb *redis.Client) *PlatformQueue { return &PlatformQueue{rdb: rdb} }

// Sync adds or removes ch according to its current state. A channel that
// stays queued keeps its original position.
func (q *PlatformQueue) Sync(ctx context.Context, ch *model.Channel) error {
	if !ch.InPlatformQueue() {
		return q.Remove(ctx, ch.ID)
	}
	priority := model.PriorityMedium
	if ch.Ticket != nil {
		priority = ch.Ticket.Priority
	}
	return q.Add(ctx, ch.ID, priority, ch.UpdatedAt)
}

func (q *PlatformQueue) Add(ctx context.Context, channelID string, p model.TicketPriority, since time.Time) error {
	err := q.rdb.ZAddNX(ctx, queueKey, redis.Z{Score: score(p, since), Member: channelID}).Err()
	if err != nil {
		return fmt.Errorf("redis: queue add: %w", err)
	}
	return nil
}

func (q *PlatformQueue) Remove(ctx context.Context, channelID string) error {
	if err := q.rdb.ZRem(ctx, queueKey, channelID).Err(); err != nil {
		return fmt.Errorf("redis: queue remove: %w", err)
	}
	return nil
}

// List returns up to limit entries, most urgent first.
func (q *PlatformQueue) List(ctx context.Context, limit int) ([]QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	zs, err := q.rdb.ZRevRangeWithScores(ctx, queueKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: queue list: %w", err)
	}
	out := make([]QueueEntry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		p, since := unscore(z.Score)
		out = append(out, QueueEntry{ChannelID: id, Priority: p, Since: since})
	}
	return out, nil
}
