package history

import (
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

// segmentSeparator joins the two message bodies of a segment.
const segmentSeparator = "\n\n"

// Segment is a retrieval unit: an ordered pair of chronologically adjacent
// messages from one session. Segments reference their source messages by id
// only; resolution back to full messages is always an explicit store lookup.
type Segment struct {
	SessionKey     string
	Content        string
	FirstMessageID int64
	LastMessageID  int64
}

// Segments derives one segment per consecutive message pair, input sorted by
// id ascending. The last message has no outgoing segment, so n messages
// yield max(n-1, 0) segments.
func Segments(messages []store.Message) []Segment {
	if len(messages) < 2 {
		return nil
	}

	sorted := sortByID(messages)

	segments := make([]Segment, 0, len(sorted)-1)
	for i := 0; i < len(sorted)-1; i++ {
		a, b := sorted[i], sorted[i+1]
		segments = append(segments, Segment{
			SessionKey:     a.SessionKey,
			Content:        a.Content + segmentSeparator + b.Content,
			FirstMessageID: a.ID,
			LastMessageID:  b.ID,
		})
	}
	return segments
}

// Newest returns the most recent derivable segment (the pair formed by the
// two newest messages) and true, or a zero Segment and false when fewer than
// two messages exist. Only this segment is embedded and indexed per turn;
// older pairs were indexed when they were newest.
func Newest(messages []store.Message) (Segment, bool) {
	segments := Segments(messages)
	if len(segments) == 0 {
		return Segment{}, false
	}
	return segments[len(segments)-1], true
}
