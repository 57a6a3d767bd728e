// Package presence keeps short-lived routing state in Redis: which users
// are online in a channel, and the platform-support work queue.
package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a client and checks the server is reachable.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func onlineKey(channelID string) string { return "channel:" + channelID + ":users" }

// Online tracks online users per channel in Redis sets. The gateway hub
// drives Join and Leave; the API reads Users.
type Online struct {
	rdb *redis.Client
}

func NewOnline(rdb *redis.Client) *Online { return &Online{rdb: rdb} }

func (o *Online) Join(ctx context.Context, channelID, userID string) error {
	if err := o.rdb.SAdd(ctx, onlineKey(channelID), userID).Err(); err != nil {
		return fmt.Errorf("redis: presence join: %w", err)
	}
	return nil
}

func (o *Online) Leave(ctx context.Context, channelID, userID string) error {
	if err := o.rdb.SRem(ctx, onlineKey(channelID), userID).Err(); err != nil {
		return fmt.Errorf("redis: presence leave: %w", err)
	}
	return nil
}

// Users returns the online users of a channel in sorted order.
func (o *Online) Users(ctx context.Context, channelID string) ([]string, error) {
	users, err := o.rdb.SMembers(ctx, onlineKey(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: presence members: %w", err)
	}
	sort.Strings(users)
	return users, nil
}
