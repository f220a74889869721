package reply

import (
	"context"
	"testing"

	"TMProject/module/chat/model"
	"TMProject/module/chat/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOriginal(fake *storetest.Fake) model.Message {
	m := model.Message{
		RoomID:    "g1",
		GroupID:   "g1",
		MessageID: "m1",
		Username:  "ada",
		Text:      "the original",
		Kind:      "text",
		Timestamp: "2026-08-31T00:00:01Z",
		CreatedAt: 1,
	}
	fake.Seed(m)
	return m
}

func TestResolveSkipsCompleteSnapshot(t *testing.T) {
	fake := storetest.New()
	r := NewResolver(fake)

	ref := &model.ReplyRef{MessageID: "m1", Text: "already here"}
	r.Resolve(context.Background(), "g1", ref)

	assert.Equal(t, "already here", ref.Text)
	assert.Zero(t, fake.Calls.FindMessage)
	assert.Zero(t, fake.Calls.FindMessageByTimestamp)
}

func TestResolveBackfillsByMessageID(t *testing.T) {
	fake := storetest.New()
	seedOriginal(fake)
	r := NewResolver(fake)

	ref := &model.ReplyRef{MessageID: "m1"}
	r.Resolve(context.Background(), "g1", ref)

	assert.Equal(t, "the original", ref.Text)
	assert.Equal(t, "ada", ref.Username)
	assert.Equal(t, "2026-08-31T00:00:01Z", ref.Timestamp)
	assert.Equal(t, "text", ref.Kind)
}

func TestResolveBackfillsByTimestamp(t *testing.T) {
	fake := storetest.New()
	orig := seedOriginal(fake)
	r := NewResolver(fake)

	ref := &model.ReplyRef{Timestamp: orig.Timestamp, Username: "ada"}
	r.Resolve(context.Background(), "g1", ref)

	require.Equal(t, "m1", ref.MessageID)
	assert.Equal(t, "the original", ref.Text)
}

func TestResolveUnresolvableCoercesText(t *testing.T) {
	fake := storetest.New()
	r := NewResolver(fake)

	ref := &model.ReplyRef{MessageID: "ghost"}
	r.Resolve(context.Background(), "g1", ref)

	assert.Equal(t, "", ref.Text)
	assert.Equal(t, "ghost", ref.MessageID)
}

func TestResolveDeletedOriginalStaysCleared(t *testing.T) {
	fake := storetest.New()
	m := seedOriginal(fake)
	require.NoError(t, fake.ApplyDelete(context.Background(), "g1", m.MessageID, "2026-08-31T03:00:00Z"))
	r := NewResolver(fake)

	ref := &model.ReplyRef{MessageID: "m1"}
	r.Resolve(context.Background(), "g1", ref)

	assert.True(t, ref.Deleted)
	assert.Equal(t, "2026-08-31T03:00:00Z", ref.DeletedAt)
	assert.Empty(t, ref.Text)
}

func TestResolveAbsorbsStoreErrors(t *testing.T) {
	fake := storetest.New()
	fake.Err = assert.AnError
	r := NewResolver(fake)

	ref := &model.ReplyRef{MessageID: "m1"}
	r.Resolve(context.Background(), "g1", ref)

	assert.Empty(t, ref.Text)
}
