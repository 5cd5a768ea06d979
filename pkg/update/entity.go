package update

import (
	"fmt"
	"unicode/utf16"
)

// ExtractionError reports an entity range that does not fit inside its message text.
type ExtractionError struct {
	Offset  int
	Length  int
	TextLen int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("entity range [%d,+%d) out of bounds for text of %d utf-16 units", e.Offset, e.Length, e.TextLen)
}

// EntityText returns the part of text covered by e.
//
// Offsets are UTF-16 code units, the unit Telegram uses for entity ranges. Counting
// bytes or runes instead would shift every entity that follows an astral-plane
// character such as an emoji.
func EntityText(text string, e Entity) (string, error) {
	units := utf16.Encode([]rune(text))
	end := e.Offset + e.Length
	if e.Offset < 0 || e.Length < 0 || end < e.Offset || end > len(units) {
		return "", &ExtractionError{Offset: e.Offset, Length: e.Length, TextLen: len(units)}
	}

	return string(utf16.Decode(units[e.Offset:end])), nil
}
