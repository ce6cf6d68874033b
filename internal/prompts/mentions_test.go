package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeLookup struct {
	prompts map[string]Prompt
	err     error
	calls   int
}

func (f *fakeLookup) ListPrompts(ctx context.Context, ids []string) ([]Prompt, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Prompt
	for _, id := range ids {
		if p, ok := f.prompts[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestResolveSubstitutesMentions(t *testing.T) {
	lookup := &fakeLookup{prompts: map[string]Prompt{
		"tone": {ID: "tone", Content: "Be concise."},
	}}
	r := NewResolver(lookup, nil)

	got := r.Resolve(context.Background(), `You are a helper. <prompt id="tone"/> Answer questions.`)
	want := "You are a helper. Be concise. Answer questions."
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveStripsComments(t *testing.T) {
	lookup := &fakeLookup{prompts: map[string]Prompt{
		"tone": {ID: "tone", Content: "<!-- internal note -->Be concise."},
	}}
	r := NewResolver(lookup, nil)

	got := r.Resolve(context.Background(), `<prompt id="tone"/>`)
	if got != "Be concise." {
		t.Errorf("Resolve = %q, want comment stripped", got)
	}
}

func TestResolveNestedMentions(t *testing.T) {
	lookup := &fakeLookup{prompts: map[string]Prompt{
		"outer": {ID: "outer", Content: `Outer. <prompt id="inner"/>`},
		"inner": {ID: "inner", Content: "Inner."},
	}}
	r := NewResolver(lookup, nil)

	got := r.Resolve(context.Background(), `<prompt id="outer"/>`)
	if got != "Outer. Inner." {
		t.Errorf("Resolve = %q", got)
	}
}

func TestResolveSelfMentionCollapses(t *testing.T) {
	lookup := &fakeLookup{prompts: map[string]Prompt{
		"root": {ID: "root", Content: `Never seen.`},
	}}
	r := NewResolver(lookup, nil)

	got := r.ResolveFor(context.Background(), "root", `Prefix <prompt id="root"/> suffix`)
	if got != "Prefix  suffix" {
		t.Errorf("ResolveFor = %q, want self mention removed", got)
	}
	if strings.Contains(got, "Never seen") {
		t.Error("self mention expanded instead of collapsing")
	}
}

func TestResolveMutualCycleBounded(t *testing.T) {
	lookup := &fakeLookup{prompts: map[string]Prompt{
		"a": {ID: "a", Content: `A <prompt id="b"/>`},
		"b": {ID: "b", Content: `B <prompt id="a"/>`},
	}}
	r := NewResolver(lookup, nil)

	got := r.Resolve(context.Background(), `<prompt id="a"/>`)
	if strings.Contains(got, "<prompt") {
		t.Errorf("Resolve = %q, unexpanded mention survived the depth cut", got)
	}
	// Bounded expansion, not infinite recursion.
	if len(got) > 64 {
		t.Errorf("Resolve produced %d bytes, expansion not bounded", len(got))
	}
}

func TestResolveLookupFailureLeavesText(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("store down")}
	r := NewResolver(lookup, nil)

	in := `Keep <prompt id="x"/> as-is.`
	if got := r.Resolve(context.Background(), in); got != in {
		t.Errorf("Resolve = %q, want input unchanged on lookup failure", got)
	}
}

func TestResolveUnknownMentionLeftInPlace(t *testing.T) {
	lookup := &fakeLookup{prompts: map[string]Prompt{}}
	r := NewResolver(lookup, nil)

	in := `Hello <prompt id="ghost"/>.`
	if got := r.Resolve(context.Background(), in); got != in {
		t.Errorf("Resolve = %q, want unknown mention preserved", got)
	}
}

func TestResolveNoMentionsNoLookup(t *testing.T) {
	lookup := &fakeLookup{}
	r := NewResolver(lookup, nil)

	if got := r.Resolve(context.Background(), "plain text"); got != "plain text" {
		t.Errorf("Resolve = %q", got)
	}
	if lookup.calls != 0 {
		t.Errorf("lookup called %d times for mention-free text", lookup.calls)
	}
}
