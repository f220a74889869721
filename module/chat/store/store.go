package store

import (
	"context"
	"fmt"

	"TMProject/module/chat/model"
)

// Store is the primary-store contract the chat core consumes. The core
// never defines the store's schema beyond these operations; swapping
// the document store only means reimplementing this interface.
//
// Lookups that find nothing return (nil, nil) — absence is a defined
// value on the read path, not an error.
type Store interface {
	// message documents
	InsertMessage(ctx context.Context, m model.Message) error
	FindMessage(ctx context.Context, groupID, messageID string) (*model.Message, error)
	FindMessageByTimestamp(ctx context.Context, groupID, timestamp, username string) (*model.Message, error)
	ApplyEdit(ctx context.Context, groupID, messageID, newText, editedAt string, edits []model.Edit) error
	ApplyDelete(ctx context.Context, groupID, messageID, deletedAt string) error
	SetReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) error
	MarkRepliesDeleted(ctx context.Context, groupID, messageID, deletedAt, timestamp, username string) error
	SetReplySnapshot(ctx context.Context, groupID, messageID string, ref *model.ReplyRef) error
	LatestMessages(ctx context.Context, groupID string, n int) ([]model.Message, error)
	RecordingsByUser(ctx context.Context, username string, n int) ([]model.Message, error)

	// materialized latest window, one document per thread
	WindowItems(ctx context.Context, groupID string, n int) ([]model.Message, error)
	WindowTail(ctx context.Context, groupID string) (*model.Message, error)
	AppendWindow(ctx context.Context, groupID string, item model.Message, window int) error
	PatchWindowEdit(ctx context.Context, groupID, messageID, newText, editedAt string) (int64, error)
	PatchWindowDelete(ctx context.Context, groupID, messageID, deletedAt string) (int64, error)
	PatchWindowReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) (int64, error)
	ReplaceWindowItems(ctx context.Context, groupID string, items []model.Message) error

	// inbox previews
	ListGroupIDs(ctx context.Context, joined []string, limit int) ([]string, error)
	LatestGroupMessage(ctx context.Context, groupID string) (*model.Message, error)
	LatestDMMessages(ctx context.Context, limit int) ([]model.Message, error)
}

// Cache key layout. Everything derived from one thread shares the
// thread's prefix so a single DeletePrefix drops every size variant.
func CacheKeyLatest(groupID string, n int) string {
	return fmt.Sprintf("messages:latest:%s:%d", groupID, n)
}

func PrefixLatest(groupID string) string {
	return "messages:latest:" + groupID + ":"
}

func PrefixPage(groupID string) string {
	return "messages:page:" + groupID + ":"
}

const PrefixGroupsList = "groups:list:"
