package match

import (
	"strings"

	"tagbridge/pkg/update"
)

// Matcher decides whether a message satisfies one forwarding rule.
//
// Implementations must be pure and must return false rather than panic on malformed
// messages.
type Matcher interface {
	Match(msg update.Message) bool
	String() string
}

// Hashtag matches messages carrying a hashtag entity equal to Tag.
type Hashtag struct {
	Tag string
}

// NewHashtag builds a hashtag matcher. A missing leading '#' is added so that
// configuration may say either "standup" or "#standup".
func NewHashtag(tag string) *Hashtag {
	tag = strings.TrimSpace(tag)
	if tag != "" && !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}

	return &Hashtag{Tag: tag}
}

// Match compares each hashtag entity byte-for-byte with the configured tag.
func (h *Hashtag) Match(msg update.Message) bool {
	if h == nil || h.Tag == "" || msg.Text == "" {
		return false
	}

	for _, entity := range msg.Entities {
		if entity.Kind != update.EntityHashtag {
			continue
		}

		text, err := update.EntityText(msg.Text, entity)
		if err != nil {
			continue
		}
		if text == h.Tag {
			return true
		}
	}

	return false
}

func (h *Hashtag) String() string {
	return "hashtag " + h.Tag
}
