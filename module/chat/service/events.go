package service

import (
	"context"
	"strings"
	"time"

	"TMProject/logger"
	"TMProject/module/chat/store"
	"TMProject/service/bus"

	"go.uber.org/zap"
)

// EventHandler returns the bus handler for one instance. Cache topic
// frames go to the invalidator; message_created frames from peers are
// replayed into the local window and drop this instance's stale
// projections. The append is idempotent, so an instance consuming its
// own broadcast is harmless.
func (s *Service) EventHandler() bus.Handler {
	return func(topic string, ev bus.Event) {
		s.inv.HandleEvent(topic, ev)

		if !strings.HasSuffix(topic, MessagesTopic) {
			return
		}
		if !strings.EqualFold(ev.Type, EventMessageCreated) {
			return
		}
		if ev.GroupID == "" || ev.MessageID == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.mat.AppendLatest(ctx, ev.GroupID, ev.MessageID); err != nil {
			logger.Warn("peer append failed",
				zap.String("groupId", ev.GroupID),
				zap.String("messageId", ev.MessageID),
				zap.Error(err))
		}
		s.local.DeletePrefix(store.PrefixLatest(ev.GroupID))
		s.local.DeletePrefix(store.PrefixPage(ev.GroupID))
	}
}
