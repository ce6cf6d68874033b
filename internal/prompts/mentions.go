// Package prompts stores reusable prompt fragments and resolves inline
// mentions of them inside agent instructions.
package prompts

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Prompt is a stored instruction fragment that other prompts and agent
// instructions can mention by id.
type Prompt struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	ParentPromptID string `json:"parent_prompt_id,omitempty"`
}

// Lookup fetches prompts by id. Missing ids are simply absent from the
// result, not an error.
type Lookup interface {
	ListPrompts(ctx context.Context, ids []string) ([]Prompt, error)
}

// maxMentionDepth bounds nested mention expansion. Legitimate prompt trees
// are shallow; anything deeper is a cycle the parent short-circuit missed.
const maxMentionDepth = 4

var (
	mentionPattern = regexp.MustCompile(`<prompt\s+id="([^"]+)"\s*/>`)
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// Resolver substitutes prompt mentions into instruction text.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver creates a mention resolver. A nil lookup disables resolution:
// Resolve returns the input unchanged.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		lookup: lookup,
		logger: logger.With("component", "prompts"),
	}
}

// Resolve expands every mention in instructions with the mentioned prompt's
// content, after stripping comment markup from it. A prompt that mentions
// itself, directly or through its parent id, resolves to the empty string. A
// mention whose prompt cannot be fetched is left in place and logged.
func (r *Resolver) Resolve(ctx context.Context, instructions string) string {
	if r.lookup == nil {
		return instructions
	}
	return r.resolve(ctx, instructions, "", 0)
}

func (r *Resolver) resolve(ctx context.Context, text, selfID string, depth int) string {
	if depth >= maxMentionDepth {
		return mentionPattern.ReplaceAllString(text, "")
	}

	ids := mentionIDs(text)
	if len(ids) == 0 {
		return text
	}

	fetched, err := r.lookup.ListPrompts(ctx, ids)
	if err != nil {
		r.logger.Warn("mention resolution failed, leaving mentions in place",
			"ids", ids,
			"error", err)
		return text
	}
	byID := make(map[string]Prompt, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	return mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := mentionPattern.FindStringSubmatch(match)[1]
		prompt, ok := byID[id]
		if !ok {
			r.logger.Warn("mentioned prompt not found, leaving mention in place", "id", id)
			return match
		}
		if id == selfID {
			return ""
		}
		content := StripComments(prompt.Content)
		return r.resolve(ctx, content, id, depth+1)
	})
}

// ResolveFor expands mentions for a prompt identified by selfID, so that a
// self-referential mention collapses to the empty string instead of
// recursing.
func (r *Resolver) ResolveFor(ctx context.Context, selfID, instructions string) string {
	if r.lookup == nil {
		return instructions
	}
	return r.resolve(ctx, instructions, selfID, 0)
}

// StripComments removes HTML-style comment blocks from prompt content.
func StripComments(content string) string {
	return strings.TrimSpace(commentPattern.ReplaceAllString(content, ""))
}

func mentionIDs(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var ids []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}
