package store

import (
	"context"
	"strings"

	"TMProject/module/chat/model"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the production Store over the primary document store.
// Every window mutation is a single-document atomic update; there are
// no read-modify-write round trips on the hot paths.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) messages() *mongo.Collection {
	return s.db.Collection(model.MessagesCollection)
}

func (s *MongoStore) window() *mongo.Collection {
	return s.db.Collection(model.LatestWindowCollection)
}

// scopeFilter matches a thread under either its current or legacy key.
func scopeFilter(groupID string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"roomId": groupID},
		bson.M{"groupId": groupID},
	}}
}

func messageFilter(groupID, messageID string) bson.M {
	return bson.M{"$and": bson.A{
		bson.M{"messageId": messageID},
		scopeFilter(groupID),
	}}
}

var noID = bson.M{"_id": 0}

func (s *MongoStore) InsertMessage(ctx context.Context, m model.Message) error {
	if _, err := s.messages().InsertOne(ctx, m); err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (s *MongoStore) findOneMessage(ctx context.Context, filter bson.M) (*model.Message, error) {
	var m model.Message
	err := s.messages().FindOne(ctx, filter, options.FindOne().SetProjection(noID)).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find message")
	}
	m.Sanitize()
	return &m, nil
}

func (s *MongoStore) FindMessage(ctx context.Context, groupID, messageID string) (*model.Message, error) {
	return s.findOneMessage(ctx, messageFilter(groupID, messageID))
}

func (s *MongoStore) FindMessageByTimestamp(ctx context.Context, groupID, timestamp, username string) (*model.Message, error) {
	return s.findOneMessage(ctx, bson.M{"$and": bson.A{
		bson.M{"timestamp": timestamp},
		bson.M{"$expr": bson.M{"$eq": bson.A{bson.M{"$toLower": "$username"}, strings.ToLower(username)}}},
		scopeFilter(groupID),
	}})
}

func (s *MongoStore) ApplyEdit(ctx context.Context, groupID, messageID, newText, editedAt string, edits []model.Edit) error {
	_, err := s.messages().UpdateOne(ctx, messageFilter(groupID, messageID), bson.M{
		"$set": bson.M{
			"text":         newText,
			"edited":       true,
			"lastEditedAt": editedAt,
			"edits":        edits,
		},
	})
	return errors.Wrap(err, "apply edit")
}

func (s *MongoStore) ApplyDelete(ctx context.Context, groupID, messageID, deletedAt string) error {
	_, err := s.messages().UpdateOne(ctx, messageFilter(groupID, messageID), bson.M{
		"$set":   bson.M{"deleted": true, "deletedAt": deletedAt, "text": ""},
		"$unset": bson.M{"media": "", "audio": ""},
	})
	return errors.Wrap(err, "apply delete")
}

func (s *MongoStore) SetReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) error {
	_, err := s.messages().UpdateOne(ctx, messageFilter(groupID, messageID), bson.M{
		"$set": bson.M{"reactions": reactions},
	})
	return errors.Wrap(err, "set reactions")
}

// MarkRepliesDeleted clears the reply snapshot on every message in the
// thread that references the deleted message, either by id or — for
// snapshots captured before ids existed — by timestamp+author.
func (s *MongoStore) MarkRepliesDeleted(ctx context.Context, groupID, messageID, deletedAt, timestamp, username string) error {
	match := bson.A{bson.M{"replyTo.messageId": messageID}}
	if timestamp != "" && username != "" {
		match = append(match, bson.M{"$and": bson.A{
			bson.M{"replyTo.timestamp": timestamp},
			bson.M{"replyTo.username": username},
		}})
	}
	_, err := s.messages().UpdateMany(ctx, bson.M{"$and": bson.A{
		bson.M{"$or": match},
		scopeFilter(groupID),
	}}, bson.M{
		"$set": bson.M{
			"replyTo.deleted":   true,
			"replyTo.deletedAt": deletedAt,
			"replyTo.text":      "",
		},
		"$unset": bson.M{"replyTo.media": "", "replyTo.audio": ""},
	})
	return errors.Wrap(err, "mark replies deleted")
}

func (s *MongoStore) SetReplySnapshot(ctx context.Context, groupID, messageID string, ref *model.ReplyRef) error {
	_, err := s.messages().UpdateOne(ctx, messageFilter(groupID, messageID), bson.M{
		"$set": bson.M{"replyTo": ref},
	})
	return errors.Wrap(err, "set reply snapshot")
}

// LatestMessages is the primary-store fallback read: the last n
// messages ordered oldest first.
func (s *MongoStore) LatestMessages(ctx context.Context, groupID string, n int) ([]model.Message, error) {
	opts := options.Find().
		SetProjection(noID).
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(n))
	cur, err := s.messages().Find(ctx, scopeFilter(groupID), opts)
	if err != nil {
		return nil, errors.Wrap(err, "latest messages")
	}
	var desc []model.Message
	if err := cur.All(ctx, &desc); err != nil {
		return nil, errors.Wrap(err, "latest messages decode")
	}
	out := make([]model.Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		desc[i].Sanitize()
		out = append(out, desc[i])
	}
	return out, nil
}

func (s *MongoStore) RecordingsByUser(ctx context.Context, username string, n int) ([]model.Message, error) {
	and := bson.A{
		bson.M{"kind": "audio"},
		bson.M{"$expr": bson.M{"$eq": bson.A{bson.M{"$toLower": "$username"}, strings.ToLower(username)}}},
	}
	opts := options.Find().
		SetProjection(noID).
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(n))
	cur, err := s.messages().Find(ctx, bson.M{"$and": and}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "recordings by user")
	}
	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "recordings decode")
	}
	for i := range out {
		out[i].Sanitize()
	}
	return out, nil
}

func (s *MongoStore) WindowItems(ctx context.Context, groupID string, n int) ([]model.Message, error) {
	proj := bson.M{"_id": 0, "items": 1}
	if n > 0 {
		proj["items"] = bson.M{"$slice": -n}
	}
	var doc model.LatestWindow
	err := s.window().FindOne(ctx, bson.M{"groupId": groupID}, options.FindOne().SetProjection(proj)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "window items")
	}
	return doc.Items, nil
}

func (s *MongoStore) WindowTail(ctx context.Context, groupID string) (*model.Message, error) {
	items, err := s.WindowItems(ctx, groupID, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// AppendWindow appends item to the thread's window, bounded to the last
// `window` entries. The guard on items.messageId keeps replayed events
// from double-appending.
func (s *MongoStore) AppendWindow(ctx context.Context, groupID string, item model.Message, window int) error {
	now := item.CreatedAt
	guarded := bson.M{
		"groupId":         groupID,
		"items.messageId": bson.M{"$ne": item.MessageID},
	}
	push := bson.M{
		"$push": bson.M{"items": bson.M{"$each": bson.A{item}, "$slice": -window}},
		"$set":  bson.M{"updatedAt": now},
	}
	res, err := s.window().UpdateOne(ctx, guarded, push)
	if err != nil {
		return errors.Wrap(err, "window push")
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// first message for the thread (or a replay): make sure the window
	// document exists, then retry the guarded push exactly once
	_, err = s.window().UpdateOne(ctx,
		bson.M{"groupId": groupID},
		bson.M{"$setOnInsert": bson.M{"groupId": groupID, "updatedAt": now}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(err, "window upsert")
	}
	_, err = s.window().UpdateOne(ctx, guarded, push)
	return errors.Wrap(err, "window push retry")
}

func (s *MongoStore) PatchWindowEdit(ctx context.Context, groupID, messageID, newText, editedAt string) (int64, error) {
	res, err := s.window().UpdateOne(ctx,
		bson.M{"groupId": groupID, "items.messageId": messageID},
		bson.M{"$set": bson.M{
			"items.$.text":         newText,
			"items.$.edited":       true,
			"items.$.lastEditedAt": editedAt,
		}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "window edit patch")
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) PatchWindowDelete(ctx context.Context, groupID, messageID, deletedAt string) (int64, error) {
	res, err := s.window().UpdateOne(ctx,
		bson.M{"groupId": groupID, "items.messageId": messageID},
		bson.M{
			"$set": bson.M{
				"items.$[msg].deleted":   true,
				"items.$[msg].deletedAt": deletedAt,
				"items.$[msg].text":      "",
			},
			"$unset": bson.M{
				"items.$[msg].media": "",
				"items.$[msg].audio": "",
			},
		},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"msg.messageId": messageID}},
		}),
	)
	if err != nil {
		return 0, errors.Wrap(err, "window delete patch")
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) PatchWindowReactions(ctx context.Context, groupID, messageID string, reactions map[string]model.Reaction) (int64, error) {
	res, err := s.window().UpdateOne(ctx,
		bson.M{"groupId": groupID, "items.messageId": messageID},
		bson.M{"$set": bson.M{"items.$.reactions": reactions}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "window reactions patch")
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) ReplaceWindowItems(ctx context.Context, groupID string, items []model.Message) error {
	var latest int64
	for _, it := range items {
		if it.CreatedAt > latest {
			latest = it.CreatedAt
		}
	}
	_, err := s.window().UpdateOne(ctx,
		bson.M{"groupId": groupID},
		bson.M{"$set": bson.M{"items": items, "updatedAt": latest}},
	)
	return errors.Wrap(err, "window replace")
}

func (s *MongoStore) ListGroupIDs(ctx context.Context, joined []string, limit int) ([]string, error) {
	filter := bson.M{}
	if len(joined) > 0 {
		filter = bson.M{"id": bson.M{"$in": joined}}
	}
	opts := options.Find().SetProjection(bson.M{"_id": 0, "id": 1}).SetLimit(int64(limit))
	cur, err := s.db.Collection(model.GroupsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	var docs []struct {
		ID string `bson:"id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "list groups decode")
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.ID != "" {
			out = append(out, d.ID)
		}
	}
	return out, nil
}

func (s *MongoStore) LatestGroupMessage(ctx context.Context, groupID string) (*model.Message, error) {
	opts := options.FindOne().
		SetProjection(noID).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var m model.Message
	err := s.messages().FindOne(ctx, scopeFilter(groupID), opts).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "latest group message")
	}
	m.Sanitize()
	return &m, nil
}

// LatestDMMessages returns recent DM messages newest-first; callers
// keep the first hit per dmId.
func (s *MongoStore) LatestDMMessages(ctx context.Context, limit int) ([]model.Message, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 0, "dmId": 1, "createdAt": 1, "username": 1, "text": 1, "kind": 1, "timestamp": 1}).
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.db.Collection(model.DMMessagesCollection).Find(ctx, bson.M{"dmId": bson.M{"$exists": true}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "latest dm messages")
	}
	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "latest dm decode")
	}
	return out, nil
}
