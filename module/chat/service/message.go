// Package service wires the message write path: durable insert first,
// then the read-model append, cache invalidation, and the peer
// broadcast. Reads go cache → shared tier → window → primary store.
package service

import (
	"context"
	"time"

	"TMProject/logger"
	"TMProject/module/chat/model"
	"TMProject/module/chat/reply"
	"TMProject/module/chat/store"
	"TMProject/service/bus"
	"TMProject/service/cache"
	"TMProject/service/cachebus"
	redisstore "TMProject/service/storage/redis"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MessagesTopic carries message_created events between instances.
const MessagesTopic = "messages"

// EventMessageCreated is the Type of the domain event published after a
// successful insert.
const EventMessageCreated = "message_created"

// ErrNotFound marks a lookup miss the handler layer maps to 404.
var ErrNotFound = errors.New("message not found")

type Service struct {
	store    store.Store
	mat      *store.Materializer
	resolver *reply.Resolver
	local    *cache.TTLCache
	shared   *redisstore.Cache // nil without Redis
	inv      *cachebus.Invalidator
	bus      *bus.Bus

	latestTTL int // seconds
	maxLatest int
}

func New(st store.Store, mat *store.Materializer, resolver *reply.Resolver,
	local *cache.TTLCache, shared *redisstore.Cache,
	inv *cachebus.Invalidator, b *bus.Bus,
	latestTTLSeconds, maxLatest int) *Service {
	if latestTTLSeconds <= 0 {
		latestTTLSeconds = 15
	}
	if maxLatest <= 0 {
		maxLatest = 500
	}
	return &Service{
		store:     st,
		mat:       mat,
		resolver:  resolver,
		local:     local,
		shared:    shared,
		inv:       inv,
		bus:       b,
		latestTTL: latestTTLSeconds,
		maxLatest: maxLatest,
	}
}

func isoNow(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Create inserts a new message. Only the durable insert can fail the
// request; everything after it — the window append, cache invalidation,
// peer broadcast — is best-effort and logged.
func (s *Service) Create(ctx context.Context, groupID string, req model.CreateMessageRequest) (*model.Message, error) {
	now := time.Now()

	ref := req.ReplyTo
	if ref == nil && (req.ReplyToMessageID != "" || req.ReplyToTimestamp != "") {
		ref = &model.ReplyRef{
			MessageID: req.ReplyToMessageID,
			Timestamp: req.ReplyToTimestamp,
		}
	}
	if ref != nil {
		s.resolver.Resolve(ctx, groupID, ref)
	}

	msg := model.Message{
		RoomID:      groupID,
		GroupID:     groupID,
		MessageID:   uuid.NewString(),
		Timestamp:   isoNow(now),
		CreatedAt:   now.UnixMilli(),
		UserID:      req.UserID,
		Username:    req.Username,
		Avatar:      req.Avatar,
		BubbleColor: req.BubbleColor,
		Text:        req.Text,
		Kind:        req.Kind,
		Media:       req.Media,
		Audio:       req.Audio,
		ReplyTo:     ref,
		Reactions:   map[string]model.Reaction{},
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}

	if err := s.mat.AppendLatest(ctx, groupID, msg.MessageID); err != nil {
		logger.Warn("window append failed", zap.String("groupId", groupID), zap.Error(err))
	}

	s.invalidateThread(ctx, groupID)
	s.inv.Invalidate(ctx, store.PrefixGroupsList)

	s.bus.Publish(ctx, MessagesTopic, bus.Event{
		Type:      EventMessageCreated,
		GroupID:   groupID,
		MessageID: msg.MessageID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		CreatedAt: msg.CreatedAt,
	})

	return &msg, nil
}

// Edit replaces a message's text, keeping the prior revision in the
// edit history.
func (s *Service) Edit(ctx context.Context, groupID, messageID, newText string) (*model.Message, error) {
	msg, err := s.store.FindMessage(ctx, groupID, messageID)
	if err != nil {
		return nil, errors.Wrap(err, "find message")
	}
	if msg == nil {
		return nil, ErrNotFound
	}

	editedAt := isoNow(time.Now())
	edits := append(msg.Edits, model.Edit{PreviousText: msg.Text, EditedAt: editedAt})
	if err := s.store.ApplyEdit(ctx, groupID, messageID, newText, editedAt, edits); err != nil {
		return nil, errors.Wrap(err, "apply edit")
	}
	s.mat.ApplyEdit(ctx, groupID, messageID, newText, editedAt)

	s.invalidateThread(ctx, groupID)
	s.inv.Invalidate(ctx, store.PrefixGroupsList)

	msg.Text = newText
	msg.Edited = true
	msg.LastEditedAt = editedAt
	msg.Edits = edits
	return msg, nil
}

// Delete tombstones a message and propagates the deletion into every
// reply snapshot that points at it.
func (s *Service) Delete(ctx context.Context, groupID, messageID string) (string, error) {
	msg, err := s.store.FindMessage(ctx, groupID, messageID)
	if err != nil {
		return "", errors.Wrap(err, "find message")
	}
	if msg == nil {
		return "", ErrNotFound
	}

	deletedAt := isoNow(time.Now())
	if err := s.store.ApplyDelete(ctx, groupID, messageID, deletedAt); err != nil {
		return "", errors.Wrap(err, "apply delete")
	}
	if err := s.store.MarkRepliesDeleted(ctx, groupID, messageID, deletedAt, msg.Timestamp, msg.Username); err != nil {
		logger.Warn("reply propagation failed", zap.String("groupId", groupID), zap.Error(err))
	}
	s.mat.ApplyDelete(ctx, groupID, messageID, deletedAt, msg.Timestamp, msg.Username)

	s.invalidateThread(ctx, groupID)
	s.inv.Invalidate(ctx, store.PrefixGroupsList)

	return deletedAt, nil
}

// React toggles the caller's reaction: a new emoji sets it, an empty
// emoji or re-sending the current one removes it.
func (s *Service) React(ctx context.Context, groupID, messageID string, req model.ReactRequest) (map[string]model.Reaction, model.ReactionSummary, error) {
	msg, err := s.store.FindMessage(ctx, groupID, messageID)
	if err != nil {
		return nil, model.ReactionSummary{}, errors.Wrap(err, "find message")
	}
	if msg == nil {
		return nil, model.ReactionSummary{}, ErrNotFound
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = map[string]model.Reaction{}
	}
	current, has := reactions[req.User.UserID]
	if req.Emoji == "" || (has && current.Emoji == req.Emoji) {
		delete(reactions, req.User.UserID)
	} else {
		reactions[req.User.UserID] = model.Reaction{
			Emoji:    req.Emoji,
			At:       time.Now().UnixMilli(),
			UserID:   req.User.UserID,
			Username: req.User.Username,
		}
	}

	if err := s.store.SetReactions(ctx, groupID, messageID, reactions); err != nil {
		return nil, model.ReactionSummary{}, errors.Wrap(err, "set reactions")
	}
	s.mat.ApplyReactions(ctx, groupID, messageID, reactions)

	s.invalidateThread(ctx, groupID)

	return reactions, model.SummarizeReactions(reactions), nil
}

// Latest serves the last count messages of a thread: local cache first,
// then the shared tier, then the window with a primary-store fallback.
// Both cache tiers are refilled on a miss.
func (s *Service) Latest(ctx context.Context, groupID string, count int) ([]model.Message, error) {
	if count <= 0 {
		count = 100
	}
	if count > s.maxLatest {
		count = s.maxLatest
	}

	key := store.CacheKeyLatest(groupID, count)
	if v, ok := s.local.Get(key); ok {
		if items, ok := v.([]model.Message); ok {
			return items, nil
		}
	}
	if s.shared != nil {
		var items []model.Message
		if s.shared.Get(ctx, key, &items) {
			s.local.Set(key, items, s.latestTTL)
			return items, nil
		}
	}

	items, err := s.mat.Latest(ctx, groupID, count)
	if err != nil {
		return nil, err
	}
	for i := range items {
		ref := items[i].ReplyTo
		if ref != nil && ref.Text == "" && !ref.Deleted {
			s.resolver.Resolve(ctx, groupID, ref)
		}
	}
	if items == nil {
		items = []model.Message{}
	}

	s.local.Set(key, items, s.latestTTL)
	if s.shared != nil {
		s.shared.Set(ctx, key, items, s.latestTTL)
	}
	return items, nil
}

// ClampCount bounds a requested page size to [1, max].
func (s *Service) ClampCount(count int) int {
	if count <= 0 {
		return 100
	}
	if count > s.maxLatest {
		return s.maxLatest
	}
	return count
}

// Previews builds the inbox view: one compact entry per known thread
// plus the newest message of each DM conversation.
func (s *Service) Previews(ctx context.Context, joined []string) ([]model.Preview, error) {
	const maxThreads = 1000

	gids, err := s.store.ListGroupIDs(ctx, joined, maxThreads)
	if err != nil {
		return nil, errors.Wrap(err, "list threads")
	}

	previews := make([]model.Preview, 0, len(gids))
	for _, gid := range gids {
		tail, err := s.store.WindowTail(ctx, gid)
		if err != nil {
			logger.Warn("window tail read failed", zap.String("groupId", gid), zap.Error(err))
			tail = nil
		}
		if tail == nil {
			tail, err = s.store.LatestGroupMessage(ctx, gid)
			if err != nil {
				logger.Warn("latest lookup failed", zap.String("groupId", gid), zap.Error(err))
				continue
			}
		}
		if tail == nil {
			continue
		}
		previews = append(previews, model.PreviewOf(gid, tail))
	}

	dms, err := s.store.LatestDMMessages(ctx, maxThreads)
	if err != nil {
		logger.Warn("dm previews failed", zap.Error(err))
		return previews, nil
	}
	seen := map[string]bool{}
	for i := range dms {
		m := dms[i]
		if m.DMID == "" || seen[m.DMID] {
			continue
		}
		seen[m.DMID] = true
		previews = append(previews, model.PreviewOf("dm:"+m.DMID, &m))
	}
	return previews, nil
}

// BackfillReplies walks a thread's recent messages and completes any
// reply snapshot that is still missing its text. Returns how many were
// checked and how many were updated.
func (s *Service) BackfillReplies(ctx context.Context, groupID string, limit int) (int, int, error) {
	if limit <= 0 {
		limit = s.maxLatest
	}
	msgs, err := s.store.LatestMessages(ctx, groupID, limit)
	if err != nil {
		return 0, 0, errors.Wrap(err, "load messages")
	}

	checked, updated := 0, 0
	for i := range msgs {
		ref := msgs[i].ReplyTo
		if ref == nil {
			continue
		}
		checked++
		if ref.Text != "" || ref.Deleted {
			continue
		}
		s.resolver.Resolve(ctx, groupID, ref)
		if ref.Text == "" && !ref.Deleted {
			continue
		}
		if err := s.store.SetReplySnapshot(ctx, groupID, msgs[i].MessageID, ref); err != nil {
			logger.Warn("snapshot update failed", zap.String("messageId", msgs[i].MessageID), zap.Error(err))
			continue
		}
		updated++
	}

	if updated > 0 {
		s.invalidateThread(ctx, groupID)
		s.mat.WarmCaches(ctx, groupID)
	}
	return checked, updated, nil
}

// Recordings lists a user's audio messages, newest first.
func (s *Service) Recordings(ctx context.Context, username string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > s.maxLatest {
		limit = 100
	}
	out, err := s.store.RecordingsByUser(ctx, username, limit)
	if err != nil {
		return nil, errors.Wrap(err, "load recordings")
	}
	if out == nil {
		out = []model.Message{}
	}
	return out, nil
}

// invalidateThread drops every cached projection of one thread across
// all tiers and peers.
func (s *Service) invalidateThread(ctx context.Context, groupID string) {
	s.inv.Invalidate(ctx, store.PrefixLatest(groupID))
	s.inv.Invalidate(ctx, store.PrefixPage(groupID))
}
