// Package reply backfills partial reply snapshots from the message
// store. Clients frequently send only a messageId or a
// timestamp+username pair; the resolver fills in the rest so the
// snapshot renders without a second round trip.
package reply

import (
	"context"

	"TMProject/logger"
	"TMProject/module/chat/model"

	"go.uber.org/zap"
)

// Lookup is the slice of the store the resolver needs.
type Lookup interface {
	FindMessage(ctx context.Context, groupID, messageID string) (*model.Message, error)
	FindMessageByTimestamp(ctx context.Context, groupID, timestamp, username string) (*model.Message, error)
}

type Resolver struct {
	store Lookup
}

func NewResolver(store Lookup) *Resolver {
	return &Resolver{store: store}
}

// Resolve completes ref in place. A snapshot that already carries text
// is trusted as-is and triggers no lookup. When the referenced message
// cannot be found the snapshot is kept with its text coerced to the
// empty string so downstream marshalling stays uniform. Store errors
// are absorbed: a reply with a thin snapshot beats a failed send.
func (r *Resolver) Resolve(ctx context.Context, groupID string, ref *model.ReplyRef) {
	if ref == nil || ref.Text != "" {
		return
	}

	src, err := r.lookup(ctx, groupID, ref)
	if err != nil {
		logger.Warn("reply lookup failed", zap.String("groupId", groupID), zap.Error(err))
		return
	}
	if src == nil {
		ref.Text = ""
		return
	}

	if ref.MessageID == "" {
		ref.MessageID = src.MessageID
	}
	if ref.Username == "" {
		ref.Username = src.Username
	}
	if ref.Timestamp == "" {
		ref.Timestamp = src.Timestamp
	}
	if ref.Kind == "" {
		ref.Kind = src.Kind
	}
	if ref.Media == nil {
		ref.Media = src.Media
	}
	if ref.Audio == nil {
		ref.Audio = src.Audio
	}
	ref.Deleted = src.Deleted
	ref.DeletedAt = src.DeletedAt
	if src.Deleted {
		ref.Text = ""
		ref.Media = nil
		ref.Audio = nil
		return
	}
	ref.Text = src.Text
}

func (r *Resolver) lookup(ctx context.Context, groupID string, ref *model.ReplyRef) (*model.Message, error) {
	if ref.MessageID != "" {
		return r.store.FindMessage(ctx, groupID, ref.MessageID)
	}
	if ref.Timestamp != "" && ref.Username != "" {
		return r.store.FindMessageByTimestamp(ctx, groupID, ref.Timestamp, ref.Username)
	}
	return nil, nil
}
