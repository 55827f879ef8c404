package governance

import (
	"context"
	"strings"
	"sync"
)

// WordlistModeration is the local moderation filter: a case-insensitive
// blocklist applied to both directions. Matched input is blocked; matched
// output is rewritten with the redaction marker instead of blocked, so a
// misbehaving model degrades rather than erroring.
type WordlistModeration struct {
	mu       sync.RWMutex
	words    []string
	redacted string
}

var _ Moderation = (*WordlistModeration)(nil)

// NewWordlistModeration creates a filter over the given blocked words.
func NewWordlistModeration(words ...string) *WordlistModeration {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	return &WordlistModeration{words: lowered, redacted: "[redacted]"}
}

// FilterIn blocks input containing any listed word.
func (m *WordlistModeration) FilterIn(_ context.Context, content, _ string) (Verdict, error) {
	if word := m.match(content); word != "" {
		return Verdict{Blocked: true, Reason: "content contains blocked term"}, nil
	}
	return Verdict{}, nil
}

// FilterOut rewrites output containing any listed word.
func (m *WordlistModeration) FilterOut(_ context.Context, content, _ string) (Verdict, error) {
	m.mu.RLock()
	words := m.words
	redacted := m.redacted
	m.mu.RUnlock()

	rewritten := content
	matched := false
	for _, w := range words {
		if containsFold(rewritten, w) {
			rewritten = replaceFold(rewritten, w, redacted)
			matched = true
		}
	}
	if matched {
		return Verdict{Replacement: rewritten}, nil
	}
	return Verdict{}, nil
}

func (m *WordlistModeration) match(content string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.words {
		if containsFold(content, w) {
			return w
		}
	}
	return ""
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

// replaceFold replaces every case-insensitive occurrence of sub with repl.
func replaceFold(s, sub, repl string) string {
	var b strings.Builder
	lower := strings.ToLower(s)
	for {
		i := strings.Index(lower, sub)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[i+len(sub):]
		lower = lower[i+len(sub):]
	}
}

// NoopModeration passes everything through. Used when moderation is handled
// by an external adapter or disabled.
type NoopModeration struct{}

var _ Moderation = NoopModeration{}

// FilterIn allows all input.
func (NoopModeration) FilterIn(context.Context, string, string) (Verdict, error) {
	return Verdict{}, nil
}

// FilterOut allows all output.
func (NoopModeration) FilterOut(context.Context, string, string) (Verdict, error) {
	return Verdict{}, nil
}
