package store_test

import (
	"context"
	"fmt"
	"testing"

	"TMProject/module/chat/model"
	"TMProject/module/chat/store"
	"TMProject/module/chat/store/storetest"
	"TMProject/service/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMaterializer(fake *storetest.Fake, window int) (*store.Materializer, *cache.TTLCache) {
	local := cache.New()
	return store.NewMaterializer(fake, local, nil, window, []int{2, 3}, 15), local
}

func msg(gid, mid, text string, at int64) model.Message {
	return model.Message{
		RoomID:    gid,
		GroupID:   gid,
		MessageID: mid,
		Username:  "ada",
		Text:      text,
		Timestamp: fmt.Sprintf("2026-08-31T00:00:%02dZ", at),
		CreatedAt: at,
	}
}

func TestAppendLatestBoundsWindow(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m := msg("g1", fmt.Sprintf("m%d", i), fmt.Sprintf("hello %d", i), int64(i))
		fake.Seed(m)
		require.NoError(t, mat.AppendLatest(ctx, "g1", m.MessageID))
	}

	items, err := fake.WindowItems(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "m2", items[0].MessageID)
	assert.Equal(t, "m4", items[2].MessageID)
}

func TestAppendLatestMissingMessageIsNoOp(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 3)

	require.NoError(t, mat.AppendLatest(context.Background(), "g1", "ghost"))
	items, _ := fake.WindowItems(context.Background(), "g1", 0)
	assert.Empty(t, items)
}

func TestAppendLatestIsIdempotent(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 3)
	ctx := context.Background()

	m := msg("g1", "m1", "once", 1)
	fake.Seed(m)
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))

	items, _ := fake.WindowItems(ctx, "g1", 0)
	assert.Len(t, items, 1)
}

func TestAppendLatestWarmsSizeKeys(t *testing.T) {
	fake := storetest.New()
	mat, local := newMaterializer(fake, 5)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m := msg("g1", fmt.Sprintf("m%d", i), "t", int64(i))
		fake.Seed(m)
		require.NoError(t, mat.AppendLatest(ctx, "g1", m.MessageID))
	}

	v, ok := local.Get(store.CacheKeyLatest("g1", 2))
	require.True(t, ok)
	tail := v.([]model.Message)
	require.Len(t, tail, 2)
	assert.Equal(t, "m2", tail[0].MessageID)
	assert.Equal(t, "m3", tail[1].MessageID)

	v, ok = local.Get(store.CacheKeyLatest("g1", 3))
	require.True(t, ok)
	assert.Len(t, v.([]model.Message), 3)
}

func TestApplyEditPatchesWindow(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 5)
	ctx := context.Background()

	m := msg("g1", "m1", "before", 1)
	fake.Seed(m)
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))

	mat.ApplyEdit(ctx, "g1", "m1", "after", "2026-08-31T01:00:00Z")

	items, _ := fake.WindowItems(ctx, "g1", 0)
	require.Len(t, items, 1)
	assert.Equal(t, "after", items[0].Text)
	assert.True(t, items[0].Edited)
	assert.Equal(t, "2026-08-31T01:00:00Z", items[0].LastEditedAt)
}

func TestApplyDeleteClearsItemAndPropagatesByID(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 5)
	ctx := context.Background()

	orig := msg("g1", "m1", "original", 1)
	orig.Media = map[string]any{"url": "x"}
	reply := msg("g1", "m2", "a reply", 2)
	reply.ReplyTo = &model.ReplyRef{MessageID: "m1", Username: "ada", Text: "original"}
	fake.Seed(orig, reply)
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m2"))

	mat.ApplyDelete(ctx, "g1", "m1", "2026-08-31T02:00:00Z", orig.Timestamp, "ada")

	items, _ := fake.WindowItems(ctx, "g1", 0)
	require.Len(t, items, 2)
	assert.True(t, items[0].Deleted)
	assert.Empty(t, items[0].Text)
	assert.Nil(t, items[0].Media)

	ref := items[1].ReplyTo
	require.NotNil(t, ref)
	assert.True(t, ref.Deleted)
	assert.Empty(t, ref.Text)
	assert.Equal(t, "2026-08-31T02:00:00Z", ref.DeletedAt)
}

func TestApplyDeletePropagatesByTimestampAndUser(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 5)
	ctx := context.Background()

	orig := msg("g1", "m1", "original", 1)
	reply := msg("g1", "m2", "a reply", 2)
	// snapshot captured before ids existed: no messageId on the ref
	reply.ReplyTo = &model.ReplyRef{Username: "ada", Timestamp: orig.Timestamp, Text: "original"}
	fake.Seed(orig, reply)
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m2"))

	mat.ApplyDelete(ctx, "g1", "m1", "2026-08-31T02:00:00Z", orig.Timestamp, "ada")

	items, _ := fake.WindowItems(ctx, "g1", 0)
	ref := items[1].ReplyTo
	require.NotNil(t, ref)
	assert.True(t, ref.Deleted)
	assert.Empty(t, ref.Text)
}

func TestApplyReactionsPatchesWindow(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 5)
	ctx := context.Background()

	m := msg("g1", "m1", "hi", 1)
	fake.Seed(m)
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))

	mat.ApplyReactions(ctx, "g1", "m1", map[string]model.Reaction{
		"u1": {Emoji: "🔥", UserID: "u1", Username: "ada"},
	})

	items, _ := fake.WindowItems(ctx, "g1", 0)
	require.Len(t, items, 1)
	assert.Equal(t, "🔥", items[0].Reactions["u1"].Emoji)
}

func TestLatestFallsBackWhenWindowEmpty(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 5)
	ctx := context.Background()

	fake.Seed(msg("g1", "m1", "a", 1), msg("g1", "m2", "b", 2))

	out, err := mat.Latest(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "m1", out[0].MessageID)
	assert.Equal(t, 1, fake.Calls.LatestMessages)
}

func TestLatestPrefersWindow(t *testing.T) {
	fake := storetest.New()
	mat, _ := newMaterializer(fake, 5)
	ctx := context.Background()

	m := msg("g1", "m1", "a", 1)
	fake.Seed(m)
	require.NoError(t, mat.AppendLatest(ctx, "g1", "m1"))

	fake.Calls.LatestMessages = 0
	out, err := mat.Latest(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Zero(t, fake.Calls.LatestMessages)
}
