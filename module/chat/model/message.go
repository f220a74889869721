package model

// Collection names used by the chat core.
const (
	MessagesCollection     = "messages"
	DMMessagesCollection   = "dm_messages"
	GroupsCollection       = "groups"
	LatestWindowCollection = "read_messages_latest"
)

// Reaction is one user's reaction to a message, keyed by userId in the
// message's reactions map.
type Reaction struct {
	Emoji    string `bson:"emoji" json:"emoji"`
	At       int64  `bson:"at" json:"at"` // unix ms
	UserID   string `bson:"userId" json:"userId"`
	Username string `bson:"username,omitempty" json:"username,omitempty"`
}

// ReplyRef is a lossy snapshot of the message being replied to, taken
// at reply time. Text is authoritative once backfilled from the store;
// it is always a string, never absent.
type ReplyRef struct {
	MessageID string         `bson:"messageId,omitempty" json:"messageId,omitempty"`
	Username  string         `bson:"username,omitempty" json:"username,omitempty"`
	Text      string         `bson:"text" json:"text"`
	Timestamp string         `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	Kind      string         `bson:"kind,omitempty" json:"kind,omitempty"`
	Media     map[string]any `bson:"media,omitempty" json:"media,omitempty"`
	Audio     map[string]any `bson:"audio,omitempty" json:"audio,omitempty"`
	Deleted   bool           `bson:"deleted,omitempty" json:"deleted,omitempty"`
	DeletedAt string         `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
}

// Clone returns a deep-enough copy for patch paths that must not alias
// the original maps.
func (r *ReplyRef) Clone() *ReplyRef {
	if r == nil {
		return nil
	}
	out := *r
	if r.Media != nil {
		out.Media = make(map[string]any, len(r.Media))
		for k, v := range r.Media {
			out.Media[k] = v
		}
	}
	if r.Audio != nil {
		out.Audio = make(map[string]any, len(r.Audio))
		for k, v := range r.Audio {
			out.Audio[k] = v
		}
	}
	return &out
}

// Edit records one prior revision of an edited message.
type Edit struct {
	PreviousText string `bson:"previousText" json:"previousText"`
	EditedAt     string `bson:"editedAt" json:"editedAt"`
}

// Message is both the durable message document and the denormalized
// window item; the two are kept in lock-step by the materializer.
type Message struct {
	RoomID      string              `bson:"roomId,omitempty" json:"roomId,omitempty"`
	GroupID     string              `bson:"groupId,omitempty" json:"groupId,omitempty"` // legacy alias of roomId
	DMID        string              `bson:"dmId,omitempty" json:"dmId,omitempty"`
	MessageID   string              `bson:"messageId" json:"messageId"`
	Timestamp   string              `bson:"timestamp" json:"timestamp"` // ISO-8601 UTC
	CreatedAt   int64               `bson:"createdAt" json:"createdAt"` // unix ms
	UserID      string              `bson:"userId,omitempty" json:"userId,omitempty"`
	Username    string              `bson:"username,omitempty" json:"username,omitempty"`
	Avatar      string              `bson:"avatar,omitempty" json:"avatar,omitempty"`
	BubbleColor string              `bson:"bubbleColor,omitempty" json:"bubbleColor,omitempty"`
	Text        string              `bson:"text" json:"text"`
	Kind        string              `bson:"kind,omitempty" json:"kind,omitempty"`
	Media       map[string]any      `bson:"media,omitempty" json:"media,omitempty"`
	Audio       map[string]any      `bson:"audio,omitempty" json:"audio,omitempty"`
	ReplyTo     *ReplyRef           `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Edited      bool                `bson:"edited" json:"edited"`
	LastEditedAt string             `bson:"lastEditedAt,omitempty" json:"lastEditedAt,omitempty"`
	Edits       []Edit              `bson:"edits,omitempty" json:"edits,omitempty"`
	Deleted     bool                `bson:"deleted" json:"deleted"`
	DeletedAt   string              `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	Reactions   map[string]Reaction `bson:"reactions" json:"reactions"`
}

// Sanitize normalizes a document for display: reactions are always a
// map, never nil.
func (m *Message) Sanitize() {
	if m.Reactions == nil {
		m.Reactions = map[string]Reaction{}
	}
}

// LatestWindow is the materialized latest-N window for one thread.
// Items are ordered oldest first; the store bounds them to the window
// size on every append.
type LatestWindow struct {
	GroupID   string    `bson:"groupId" json:"groupId"`
	Items     []Message `bson:"items" json:"items"`
	UpdatedAt int64     `bson:"updatedAt" json:"updatedAt"` // unix ms
}

type ReactionSummary struct {
	TotalCount int       `json:"totalCount"`
	MostRecent *Reaction `json:"mostRecent"`
}

// SummarizeReactions picks the most recent reaction for preview use.
func SummarizeReactions(reactions map[string]Reaction) ReactionSummary {
	if len(reactions) == 0 {
		return ReactionSummary{TotalCount: 0, MostRecent: nil}
	}
	var most *Reaction
	for _, r := range reactions {
		r := r
		if most == nil || r.At > most.At {
			most = &r
		}
	}
	return ReactionSummary{TotalCount: len(reactions), MostRecent: most}
}

// Preview is the compact inbox representation of a thread's newest
// message.
type Preview struct {
	ThreadID  string         `json:"threadId"`
	Username  string         `json:"username,omitempty"`
	Text      string         `json:"text"`
	Kind      string         `json:"kind,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Media     map[string]any `json:"media,omitempty"`
}

// PreviewOf derives a Preview from a message document.
func PreviewOf(threadID string, m *Message) Preview {
	return Preview{
		ThreadID:  threadID,
		Username:  m.Username,
		Text:      m.Text,
		Kind:      m.Kind,
		Timestamp: m.Timestamp,
		Media:     m.Media,
	}
}

// CreateMessageRequest is the inbound create payload. The reply target
// arrives either as a full snapshot in ReplyTo or as the loose
// ReplyToMessageID/ReplyToTimestamp pair; the snapshot wins on overlap.
type CreateMessageRequest struct {
	UserID           string         `json:"userId" binding:"required"`
	Username         string         `json:"username" binding:"required"`
	Avatar           string         `json:"avatar"`
	BubbleColor      string         `json:"bubbleColor"`
	Text             string         `json:"text"`
	Kind             string         `json:"kind"`
	Media            map[string]any `json:"media"`
	Audio            map[string]any `json:"audio"`
	ReplyTo          *ReplyRef      `json:"replyTo"`
	ReplyToMessageID string         `json:"replyToMessageId"`
	ReplyToTimestamp string         `json:"replyToTimestamp"`
}

type EditMessageRequest struct {
	NewText string `json:"newText" binding:"required"`
}

type ReactUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type ReactRequest struct {
	Emoji string    `json:"emoji"`
	User  ReactUser `json:"user"`
}
