package history

import (
	"strings"
	"testing"

	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

func runeCost(text string) int {
	return len(text)
}

func msg(id int64, role store.Role, content string) store.Message {
	return store.Message{ID: id, SessionKey: "sess", Role: role, Content: content}
}

func TestWindow_Empty(t *testing.T) {
	got := Window(nil, 100, runeCost)
	if len(got) != 0 {
		t.Fatalf("got %d messages, want 0", len(got))
	}
}

func TestWindow_AllFit(t *testing.T) {
	msgs := []store.Message{
		msg(1, store.RoleHuman, "aa"),
		msg(2, store.RoleAI, "bb"),
		msg(3, store.RoleHuman, "cc"),
	}

	got := Window(msgs, 100, runeCost)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, m := range got {
		if m.ID != int64(i+1) {
			t.Errorf("position %d: got id %d, want %d", i, m.ID, i+1)
		}
	}
}

func TestWindow_KeepsNewestSuffix(t *testing.T) {
	msgs := []store.Message{
		msg(1, store.RoleHuman, strings.Repeat("a", 50)),
		msg(2, store.RoleAI, strings.Repeat("b", 20)),
		msg(3, store.RoleHuman, strings.Repeat("c", 20)),
	}

	// 20+20 fits under 50; adding the 50-char message would reach it.
	got := Window(msgs, 50, runeCost)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("got ids %d,%d; want 2,3", got[0].ID, got[1].ID)
	}
}

func TestWindow_OversizedNewestStillIncluded(t *testing.T) {
	msgs := []store.Message{
		msg(1, store.RoleHuman, "short"),
		msg(2, store.RoleAI, strings.Repeat("x", 500)),
	}

	got := Window(msgs, 10, runeCost)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].ID != 2 {
		t.Errorf("got id %d, want the newest message", got[0].ID)
	}
}

func TestWindow_UnsortedInput(t *testing.T) {
	msgs := []store.Message{
		msg(3, store.RoleHuman, "cc"),
		msg(1, store.RoleHuman, "aa"),
		msg(2, store.RoleAI, "bb"),
	}

	got := Window(msgs, 100, runeCost)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 3 {
		t.Errorf("window not chronological: %d,%d,%d", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestWindow_DoesNotMutateInput(t *testing.T) {
	msgs := []store.Message{
		msg(2, store.RoleAI, "bb"),
		msg(1, store.RoleHuman, "aa"),
	}

	Window(msgs, 100, runeCost)
	if msgs[0].ID != 2 {
		t.Error("input slice was reordered")
	}
}

// --- Segments ---

func TestSegments_TooFewMessages(t *testing.T) {
	if got := Segments(nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	one := []store.Message{msg(1, store.RoleHuman, "hi")}
	if got := Segments(one); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestSegments_Pairs(t *testing.T) {
	msgs := []store.Message{
		msg(1, store.RoleHuman, "q1"),
		msg(2, store.RoleAI, "a1"),
		msg(3, store.RoleHuman, "q2"),
		msg(4, store.RoleAI, "a2"),
	}

	segs := Segments(msgs)
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}

	want := []struct {
		first, last int64
		content     string
	}{
		{1, 2, "q1\n\na1"},
		{2, 3, "a1\n\nq2"},
		{3, 4, "q2\n\na2"},
	}
	for i, w := range want {
		if segs[i].FirstMessageID != w.first || segs[i].LastMessageID != w.last {
			t.Errorf("segment %d: got ids %d..%d, want %d..%d",
				i, segs[i].FirstMessageID, segs[i].LastMessageID, w.first, w.last)
		}
		if segs[i].Content != w.content {
			t.Errorf("segment %d: got %q, want %q", i, segs[i].Content, w.content)
		}
	}
}

func TestNewest(t *testing.T) {
	msgs := []store.Message{
		msg(1, store.RoleHuman, "q1"),
		msg(2, store.RoleAI, "a1"),
		msg(3, store.RoleHuman, "q2"),
	}

	seg, ok := Newest(msgs)
	if !ok {
		t.Fatal("expected a segment")
	}
	if seg.FirstMessageID != 2 || seg.LastMessageID != 3 {
		t.Errorf("got ids %d..%d, want 2..3", seg.FirstMessageID, seg.LastMessageID)
	}

	if _, ok := Newest(msgs[:1]); ok {
		t.Error("single message should yield no segment")
	}
}
