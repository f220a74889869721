// Package storetest provides an in-memory Store for tests. It mirrors
// the single-document window semantics of the Mongo implementation:
// guarded appends, bounded slices, in-place patches.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"TMProject/module/chat/model"
)

type Fake struct {
	mu       sync.Mutex
	Messages []model.Message
	Windows  map[string][]model.Message

	// Err, when set, is returned by every store call. Calls counts reads
	// for assertions about cache behavior.
	Err   error
	Calls struct {
		FindMessage            int
		FindMessageByTimestamp int
		WindowItems            int
		LatestMessages         int
	}
}

func New() *Fake {
	return &Fake{Windows: map[string][]model.Message{}}
}

func (f *Fake) Seed(msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, msgs...)
}

func (f *Fake) sameThread(m model.Message, groupID string) bool {
	return m.RoomID == groupID || m.GroupID == groupID
}

func (f *Fake) InsertMessage(ctx context.Context, msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

func (f *Fake) FindMessage(ctx context.Context, groupID, messageID string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls.FindMessage++
	if f.Err != nil {
		return nil, f.Err
	}
	for i := range f.Messages {
		if f.Messages[i].MessageID == messageID && f.sameThread(f.Messages[i], groupID) {
			m := f.Messages[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (f *Fake) FindMessageByTimestamp(ctx context.Context, groupID, timestamp, username string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls.FindMessageByTimestamp++
	if f.Err != nil {
		return nil, f.Err
	}
	for i := range f.Messages {
		m := f.Messages[i]
		if f.sameThread(m, groupID) && m.Timestamp == timestamp && strings.EqualFold(m.Username, username) {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *Fake) ApplyEdit(ctx context.Context, groupID, messageID, newText, editedAt string, edits []model.Edit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for i := range f.Messages {
		if f.Messages[i].MessageID == messageID && f.sameThread(f.Messages[i], groupID) {
			f.Messages[i].Text = newText
			f.Messages[i].Edited = true
			f.Messages[i].LastEditedAt = editedAt
			f.Messages[i].Edits = edits
		}
	}
	return nil
}

func (f *Fake) ApplyDelete(ctx context.Context, groupID, messageID, deletedAt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for i := range f.Messages {
		if f.Messages[i].MessageID == messageID && f.sameThread(f.Messages[i], groupID) {
			f.Messages[i].Deleted = true
			f.Messages[i].DeletedAt = deletedAt
			f.Messages[i].Text = ""
			f.Messages[i].Media = nil
			f.Messages[i].Audio = nil
		}
	}
	return nil
}

func (f *Fake) SetReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for i := range f.Messages {
		if f.Messages[i].MessageID == messageID && f.sameThread(f.Messages[i], groupID) {
			f.Messages[i].Reactions = reactions
		}
	}
	return nil
}

func (f *Fake) MarkRepliesDeleted(ctx context.Context, groupID, messageID, deletedAt, timestamp, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for i := range f.Messages {
		ref := f.Messages[i].ReplyTo
		if ref == nil || !f.sameThread(f.Messages[i], groupID) {
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
		f.Messages[i].ReplyTo = cleared
	}
	return nil
}

func (f *Fake) SetReplySnapshot(ctx context.Context, groupID, messageID string, ref *model.ReplyRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for i := range f.Messages {
		if f.Messages[i].MessageID == messageID && f.sameThread(f.Messages[i], groupID) {
			f.Messages[i].ReplyTo = ref
		}
	}
	return nil
}

func (f *Fake) LatestMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls.LatestMessages++
	if f.Err != nil {
		return nil, f.Err
	}
	var out []model.Message
	for _, m := range f.Messages {
		if f.sameThread(m, groupID) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *Fake) RecordingsByUser(ctx context.Context, username string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []model.Message
	for _, m := range f.Messages {
		if m.Kind == "audio" && strings.EqualFold(m.Username, username) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) WindowItems(ctx context.Context, groupID string, n int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls.WindowItems++
	if f.Err != nil {
		return nil, f.Err
	}
	items := f.Windows[groupID]
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]model.Message, len(items))
	copy(out, items)
	return out, nil
}

func (f *Fake) WindowTail(ctx context.Context, groupID string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	items := f.Windows[groupID]
	if len(items) == 0 {
		return nil, nil
	}
	m := items[len(items)-1]
	return &m, nil
}

func (f *Fake) AppendWindow(ctx context.Context, groupID string, item model.Message, window int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for _, existing := range f.Windows[groupID] {
		if existing.MessageID == item.MessageID {
			return nil
		}
	}
	items := append(f.Windows[groupID], item)
	if window > 0 && len(items) > window {
		items = items[len(items)-window:]
	}
	f.Windows[groupID] = items
	return nil
}

func (f *Fake) PatchWindowEdit(ctx context.Context, groupID, messageID, newText, editedAt string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	var n int64
	items := f.Windows[groupID]
	for i := range items {
		if items[i].MessageID == messageID {
			items[i].Text = newText
			items[i].Edited = true
			items[i].LastEditedAt = editedAt
			n++
		}
	}
	return n, nil
}

func (f *Fake) PatchWindowDelete(ctx context.Context, groupID, messageID, deletedAt string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	var n int64
	items := f.Windows[groupID]
	for i := range items {
		if items[i].MessageID == messageID {
			items[i].Deleted = true
			items[i].DeletedAt = deletedAt
			items[i].Text = ""
			items[i].Media = nil
			items[i].Audio = nil
			n++
		}
	}
	return n, nil
}

func (f *Fake) PatchWindowReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	var n int64
	items := f.Windows[groupID]
	for i := range items {
		if items[i].MessageID == messageID {
			items[i].Reactions = reactions
			n++
		}
	}
	return n, nil
}

func (f *Fake) ReplaceWindowItems(ctx context.Context, groupID string, items []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	cp := make([]model.Message, len(items))
	copy(cp, items)
	f.Windows[groupID] = cp
	return nil
}

func (f *Fake) ListGroupIDs(ctx context.Context, joined []string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range joined {
		add(id)
	}
	for gid := range f.Windows {
		add(gid)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) LatestGroupMessage(ctx context.Context, groupID string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var latest *model.Message
	for i := range f.Messages {
		m := f.Messages[i]
		if !f.sameThread(m, groupID) {
			continue
		}
		if latest == nil || m.CreatedAt > latest.CreatedAt {
			cp := m
			latest = &cp
		}
	}
	return latest, nil
}

func (f *Fake) LatestDMMessages(ctx context.Context, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []model.Message
	for _, m := range f.Messages {
		if m.DMID != "" {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
