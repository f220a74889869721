package store

import (
	"context"

	"TMProject/logger"
	"TMProject/module/chat/model"
	"TMProject/service/cache"
	redisstore "TMProject/service/storage/redis"

	"go.uber.org/zap"
)

// Materializer maintains the latest-N window per thread and keeps the
// per-size cache projections warm. A thread's window is created lazily
// on first append and thereafter only appended to or patched in place —
// it never regresses to empty.
//
// Window patches are best-effort: a failed patch leaves the window
// stale until the next append or backfill, which is acceptable because
// the caches derived from it are invalidated on every mutation anyway.
// Only primary-store failures on the message documents themselves are
// surfaced to callers, and that happens upstream of this type.
type Materializer struct {
	store  Store
	local  *cache.TTLCache
	shared *redisstore.Cache // nil when Redis is not configured
	window int
	sizes  []int
	ttl    int // seconds, for warmed cache entries
}

func NewMaterializer(st Store, local *cache.TTLCache, shared *redisstore.Cache, window int, sizes []int, ttlSeconds int) *Materializer {
	if window <= 0 {
		window = 200
	}
	if len(sizes) == 0 {
		sizes = []int{50, 100}
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 15
	}
	return &Materializer{
		store:  st,
		local:  local,
		shared: shared,
		window: window,
		sizes:  sizes,
		ttl:    ttlSeconds,
	}
}

// AppendLatest fetches the full message document and appends its
// snapshot to the thread's window, then re-warms the per-size cache
// entries from the fresh tail. A missing message is a no-op: the event
// may have outrun replication or the doc was already deleted.
func (mt *Materializer) AppendLatest(ctx context.Context, groupID, messageID string) error {
	msg, err := mt.store.FindMessage(ctx, groupID, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	msg.Sanitize()
	if err := mt.store.AppendWindow(ctx, groupID, *msg, mt.window); err != nil {
		return err
	}
	mt.WarmCaches(ctx, groupID)
	return nil
}

// WarmCaches refreshes the size-keyed projections for a thread from the
// current window tail. Best-effort.
func (mt *Materializer) WarmCaches(ctx context.Context, groupID string) {
	items, err := mt.store.WindowItems(ctx, groupID, mt.window)
	if err != nil || len(items) == 0 {
		return
	}
	for _, n := range mt.sizes {
		tail := items
		if len(tail) > n {
			tail = tail[len(tail)-n:]
		}
		key := CacheKeyLatest(groupID, n)
		mt.local.Set(key, tail, mt.ttl)
		if mt.shared != nil {
			mt.shared.Set(ctx, key, tail, mt.ttl)
		}
	}
}

// ApplyEdit patches the window item in place; ordering and window size
// are untouched.
func (mt *Materializer) ApplyEdit(ctx context.Context, groupID, messageID, newText, editedAt string) {
	if _, err := mt.store.PatchWindowEdit(ctx, groupID, messageID, newText, editedAt); err != nil {
		logger.Warn("window edit patch failed", zap.String("groupId", groupID), zap.Error(err))
	}
}

// ApplyDelete marks the window item deleted, strips its media, and
// propagates the deletion into every item whose reply snapshot points
// at the deleted message — by id, or by timestamp+author for snapshots
// captured before an id existed.
func (mt *Materializer) ApplyDelete(ctx context.Context, groupID, messageID, deletedAt, timestamp, username string) {
	n, err := mt.store.PatchWindowDelete(ctx, groupID, messageID, deletedAt)
	if err != nil {
		logger.Warn("window delete patch failed", zap.String("groupId", groupID), zap.Error(err))
	}
	if err == nil && n == 0 {
		// positional patch missed (older store); rewrite the item manually
		mt.rewriteDeleted(ctx, groupID, messageID, deletedAt)
	}
	mt.propagateReplyDeletion(ctx, groupID, messageID, deletedAt, timestamp, username)
}

func (mt *Materializer) rewriteDeleted(ctx context.Context, groupID, messageID, deletedAt string) {
	items, err := mt.store.WindowItems(ctx, groupID, 0)
	if err != nil || len(items) == 0 {
		return
	}
	changed := false
	for i := range items {
		if items[i].MessageID != messageID {
			continue
		}
		items[i].Deleted = true
		items[i].DeletedAt = deletedAt
		items[i].Text = ""
		items[i].Media = nil
		items[i].Audio = nil
		changed = true
	}
	if !changed {
		return
	}
	if err := mt.store.ReplaceWindowItems(ctx, groupID, items); err != nil {
		logger.Warn("window rewrite failed", zap.String("groupId", groupID), zap.Error(err))
	}
}

func (mt *Materializer) propagateReplyDeletion(ctx context.Context, groupID, messageID, deletedAt, timestamp, username string) {
	items, err := mt.store.WindowItems(ctx, groupID, 0)
	if err != nil || len(items) == 0 {
		return
	}
	changed := false
	for i := range items {
		ref := items[i].ReplyTo
		if ref == nil {
			continue
		}
		hit := ref.MessageID == messageID
		if !hit && timestamp != "" && username != "" {
			hit = ref.Timestamp == timestamp && ref.Username == username
		}
		if !hit {
			continue
		}
		cleared := ref.Clone()
		cleared.Deleted = true
		cleared.DeletedAt = deletedAt
		cleared.Text = ""
		cleared.Media = nil
		cleared.Audio = nil
		items[i].ReplyTo = cleared
		changed = true
	}
	if !changed {
		return
	}
	if err := mt.store.ReplaceWindowItems(ctx, groupID, items); err != nil {
		logger.Warn("window reply propagation failed", zap.String("groupId", groupID), zap.Error(err))
	}
}

// ApplyReactions replaces the reactions map of the addressed item.
func (mt *Materializer) ApplyReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) {
	if _, err := mt.store.PatchWindowReactions(ctx, groupID, messageID, reactions); err != nil {
		logger.Warn("window reactions patch failed", zap.String("groupId", groupID), zap.Error(err))
	}
}

// Latest reads the last n messages, preferring the materialized window
// and falling back to the primary store for threads whose window has
// not been created yet.
func (mt *Materializer) Latest(ctx context.Context, groupID string, n int) ([]model.Message, error) {
	items, err := mt.store.WindowItems(ctx, groupID, n)
	if err != nil {
		logger.Warn("window read failed, falling back", zap.String("groupId", groupID), zap.Error(err))
		items = nil
	}
	if len(items) > 0 {
		for i := range items {
			items[i].Sanitize()
		}
		return items, nil
	}
	return mt.store.LatestMessages(ctx, groupID, n)
}
