package support

import (
	"context"

	"github.com/mahaj/dupahar-support/pkg/model"
)

// Store is the persistence gateway. It is the source of truth for channel
// membership and the message log; implementations live under pkg/store.
//
// Backends report ErrStoreNotFound, ErrStoreConflict and ErrStoreArchived
// (possibly wrapped); the service turns them into typed errors.
type Store interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	LoadChannel(ctx context.Context, id string) (*model.Channel, error)
	// SaveChannel persists ch only if the stored version still equals
	// expectedVersion. ch.Version carries the new version.
	SaveChannel(ctx context.Context, ch *model.Channel, expectedVersion int64) error
	// AppendMessage assigns msg.Seq as the channel's next sequence number and
	// bumps the channel's UpdatedAt in the same write. Archived channels are
	// rejected inside that write.
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	ListMessages(ctx context.Context, channelID string, afterSeq int64, limit int) ([]model.Message, error)
	// MarkRead adds userID to each message's read set and returns the ids
	// whose set actually grew.
	MarkRead(ctx context.Context, channelID string, messageIDs []int64, userID string) ([]int64, error)
	ListChannelsForUser(ctx context.Context, userID string) ([]*model.Channel, error)
}

// Publisher pushes events towards connected participants. Delivery is best
// effort: missed events are recovered from the ordered log, not replayed.
type Publisher interface {
	Publish(ctx context.Context, channelID string, ev model.Event) error
}

// PlatformQueue is told whenever a channel may have entered or left the
// platform-support queue. Implementations re-read the channel.
type PlatformQueue interface {
	Reconcile(ctx context.Context, channelID string) error
}

// IDGenerator hands out message ids.
type IDGenerator interface {
	Generate() int64
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, model.Event) error { return nil }

type nopQueue struct{}

func (nopQueue) Reconcile(context.Context, string) error { return nil }
