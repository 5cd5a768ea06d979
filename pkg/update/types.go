package update

// Kind classifies the payload carried by an Update.
type Kind string

const (
	KindMessage Kind = "message"
	KindOther   Kind = "other"
)

// EntityKind is the source-defined category of a tagged text range.
type EntityKind string

const (
	EntityHashtag EntityKind = "hashtag"
	EntityMention EntityKind = "mention"
	EntityURL     EntityKind = "url"
)

// Update is one unit fetched from the messaging source.
//
// ID is assigned by the source and increases monotonically. Message is only set when
// Kind is KindMessage.
type Update struct {
	ID      int
	Kind    Kind
	Message *Message
}

// Message is the user-authored part of an update. Text and Entities may both be empty.
type Message struct {
	ChatID   int64
	Text     string
	Entities []Entity
}

// Entity is a tagged range of Message.Text in UTF-16 code units.
type Entity struct {
	Kind   EntityKind
	Offset int
	Length int
}

// IsMessage reports whether the update carries a message payload.
func (u Update) IsMessage() bool {
	return u.Kind == KindMessage && u.Message != nil
}

// MaxID returns the largest update id in a batch. ok is false for an empty batch.
func MaxID(batch []Update) (maxID int, ok bool) {
	for i, u := range batch {
		if i == 0 || u.ID > maxID {
			maxID = u.ID
		}
	}

	return maxID, len(batch) > 0
}
