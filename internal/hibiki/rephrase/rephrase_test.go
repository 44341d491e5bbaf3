package rephrase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/hibiki/internal/hibiki/llm"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt []llm.Message) (string, error) {
	if len(prompt) > 0 {
		f.prompt = prompt[len(prompt)-1].Content
	}
	return f.reply, f.err
}

func TestRephrase_UsesFirstValidCandidate(t *testing.T) {
	c := &fakeCompleter{reply: `Here you go: ["when is my birthday party?", "second option"]`}

	got := Rephrase(context.Background(), c, "when?", nil, nil)
	if got != "when is my birthday party?" {
		t.Errorf("got %q, want the first candidate", got)
	}
}

func TestRephrase_BareJSONList(t *testing.T) {
	c := &fakeCompleter{reply: `["improve the generated company name 'Innovative Solutions'"]`}

	got := Rephrase(context.Background(), c, "improve", nil, nil)
	if got != "improve the generated company name 'Innovative Solutions'" {
		t.Errorf("got %q", got)
	}
}

func TestRephrase_FallsBackOnGarbage(t *testing.T) {
	c := &fakeCompleter{reply: "not json at all"}

	got := Rephrase(context.Background(), c, "original input", nil, nil)
	if got != "original input" {
		t.Errorf("got %q, want the original input", got)
	}
}

func TestRephrase_FallsBackOnModelError(t *testing.T) {
	c := &fakeCompleter{err: errors.New("rate limited")}

	got := Rephrase(context.Background(), c, "original input", nil, nil)
	if got != "original input" {
		t.Errorf("got %q, want the original input", got)
	}
}

func TestRephrase_SkipsInvalidFragments(t *testing.T) {
	// An empty array and an object precede the valid candidate list.
	c := &fakeCompleter{reply: `[] {"a": 1} ["the real rephrasing"]`}

	got := Rephrase(context.Background(), c, "original", nil, nil)
	if got != "the real rephrasing" {
		t.Errorf("got %q, want the valid candidate", got)
	}
}

func TestRephrase_PromptContainsHistory(t *testing.T) {
	c := &fakeCompleter{reply: `["ok"]`}
	history := []store.Message{
		{ID: 1, Role: store.RoleHuman, Content: "my birthday is on the 5th of May"},
		{ID: 2, Role: store.RoleAI, Content: "great, that is awesome"},
	}

	Rephrase(context.Background(), c, "when should I prepare?", history, nil)

	if !strings.Contains(c.prompt, "human: my birthday is on the 5th of May") {
		t.Error("prompt is missing the human turn")
	}
	if !strings.Contains(c.prompt, "ai: great, that is awesome") {
		t.Error("prompt is missing the ai turn")
	}
	if !strings.Contains(c.prompt, "human: when should I prepare?") {
		t.Error("prompt is missing the new input")
	}
}

func TestRenderHistory(t *testing.T) {
	history := []store.Message{
		{Role: store.RoleHuman, Content: "hello"},
		{Role: store.RoleAI, Content: "hi"},
	}

	got := RenderHistory(history)
	want := "human: hello\n\nai: hi"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestScanJSON_Fragments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int
	}{
		{"empty", "", 0},
		{"plain text", "hello world", 0},
		{"number", "the answer is 42 indeed", 1},
		{"quoted string", `he said "hello" to me`, 1},
		{"flat object", `prefix {"k": "v"} suffix`, 1},
		{"flat array", `noise ["a", "b"] noise`, 1},
		{"multiple", `[1, 2] and {"x": true}`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanJSON(tt.input)
			if len(got) != tt.count {
				t.Errorf("scanJSON(%q): got %d fragments (%v), want %d", tt.input, len(got), got, tt.count)
			}
		})
	}
}
