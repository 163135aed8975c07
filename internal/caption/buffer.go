// Package caption converts the engine's streaming fragment output into a
// stable, expiring, word-aligned display model: a small fixed set of lines
// filled left to right, shifted up when full, and drained one line at a time
// during silence.
package caption

import (
	"strings"
	"time"
	"unicode"
)

const (
	// tailLen bounds how much recent content the dedup pass compares against.
	tailLen = 60

	// minOverlap is the smallest suffix-prefix overlap treated as decoder
	// restatement rather than genuinely repeated words.
	minOverlap = 4

	// DefaultExpire is the per-line idle expiry applied when configuration
	// gives zero.
	DefaultExpire = 8 * time.Second
)

// Line is one display row. LastActive is refreshed whenever the line is the
// bottom line of a push, so active lines never expire.
type Line struct {
	Text       string
	LastActive time.Time
}

// Buffer ingests caption fragments and produces a multi-line display
// string. Words are never split across lines except for a single word longer
// than the line width, which is left to the renderer's wrap.
//
// Single-owner: the renderer-side worker that receives fragments is the only
// mutator.
type Buffer struct {
	lines    []Line
	maxLines int
	maxChars int
	expire   time.Duration
	lastTail string
	created  uint64
	now      func() time.Time
}

// BufferOption configures a [Buffer].
type BufferOption func(*Buffer)

// WithClock substitutes the time source; used by tests.
func WithClock(now func() time.Time) BufferOption {
	return func(b *Buffer) { b.now = now }
}

// NewBuffer creates a buffer holding at most maxLines lines of maxChars
// characters, expiring idle lines after expire (zero is coerced to
// DefaultExpire).
func NewBuffer(maxLines, maxChars int, expire time.Duration, opts ...BufferOption) *Buffer {
	if maxLines < 1 {
		maxLines = 1
	}
	if maxChars < 1 {
		maxChars = 1
	}
	if expire <= 0 {
		expire = DefaultExpire
	}
	b := &Buffer{
		maxLines: maxLines,
		maxChars: maxChars,
		expire:   expire,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push ingests one fragment. A leading whitespace marks a word boundary; its
// absence continues the bottom line's last word. The distinction is read
// after the dedup pass: when the removed restatement ends inside a word, the
// remainder has no leading whitespace and continues that word.
func (b *Buffer) Push(fragment string) {
	fragment = b.dedup(fragment)
	if fragment == "" {
		return
	}

	if startsWithSpace(fragment) || len(b.lines) == 0 {
		for _, word := range strings.Fields(fragment) {
			b.placeWord(word)
		}
	} else {
		b.continueWord(fragment)
	}

	if len(b.lines) > 0 {
		b.lines[len(b.lines)-1].LastActive = b.now()
	}
	b.rebuildTail()
}

// ExpireTick removes at most one line (the oldest) when its idle age
// exceeds the configured expiry. Called at ≈1Hz by the renderer side; the
// one-per-tick limit yields a gradual drain during sustained silence rather
// than a sudden clear. Reports whether a line was removed.
func (b *Buffer) ExpireTick() bool {
	if len(b.lines) == 0 {
		return false
	}
	if b.now().Sub(b.lines[0].LastActive) <= b.expire {
		return false
	}
	b.lines = b.lines[:copy(b.lines, b.lines[1:])]
	b.rebuildTail()
	return true
}

// DisplayText returns the line contents joined with newlines. The renderer
// treats newlines as hard breaks; line widths are enforced here, the
// renderer's wrap is only a safety net.
func (b *Buffer) DisplayText() string {
	texts := make([]string, len(b.lines))
	for i, l := range b.lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// LineCount returns the current number of lines.
func (b *Buffer) LineCount() int {
	return len(b.lines)
}

// Lines returns a copy of the current lines, oldest first.
func (b *Buffer) Lines() []Line {
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// UpdateConfig applies hot-reloaded display geometry. Existing lines keep
// their text; new placement uses the new width. A zero expiry is coerced to
// the default.
func (b *Buffer) UpdateConfig(maxChars int, expire time.Duration) {
	if maxChars >= 1 {
		b.maxChars = maxChars
	}
	if expire <= 0 {
		expire = DefaultExpire
	}
	b.expire = expire
}

// SetMaxLines applies a hot-reloaded line capacity, evicting oldest lines
// when shrinking.
func (b *Buffer) SetMaxLines(n int) {
	if n < 1 {
		n = 1
	}
	b.maxLines = n
	if len(b.lines) > n {
		b.lines = b.lines[:copy(b.lines, b.lines[len(b.lines)-n:])]
		b.rebuildTail()
	}
}

// ReplaceText substitutes corrected text for the most recent line whose text
// equals original, keeping its activity timestamp. Returns false when the
// line has already been evicted or expired.
func (b *Buffer) ReplaceText(original, corrected string) bool {
	if original == corrected {
		return false
	}
	for i := len(b.lines) - 1; i >= 0; i-- {
		if b.lines[i].Text == original {
			b.lines[i].Text = corrected
			b.rebuildTail()
			return true
		}
	}
	return false
}

// dedup cancels the decoder's inter-chunk restatement: the longest
// suffix-prefix overlap (at least minOverlap characters) between the recent
// tail and the fragment is removed from the fragment's head. A second pass
// with the boundary space stripped catches restatements of the tail's last
// word, without losing genuinely repeated words below the threshold.
func (b *Buffer) dedup(fragment string) string {
	if b.lastTail == "" || fragment == "" {
		return fragment
	}
	if k := overlap(b.lastTail, fragment); k > 0 {
		return fragment[k:]
	}
	if startsWithSpace(fragment) {
		trimmed := strings.TrimLeft(fragment, " \t")
		if k := overlap(b.lastTail, trimmed); k > 0 {
			return trimmed[k:]
		}
	}
	return fragment
}

// overlap returns the longest k >= minOverlap with tail's suffix equal to
// fragment's prefix, or 0.
func overlap(tail, fragment string) int {
	limit := len(tail)
	if len(fragment) < limit {
		limit = len(fragment)
	}
	for k := limit; k >= minOverlap; k-- {
		if tail[len(tail)-k:] == fragment[:k] {
			return k
		}
	}
	return 0
}

// placeWord appends one whole word using the fill-and-shift discipline.
func (b *Buffer) placeWord(word string) {
	if len(b.lines) == 0 {
		b.appendLine(word)
		return
	}
	cur := &b.lines[len(b.lines)-1]
	if cur.Text == "" {
		cur.Text = word
		return
	}
	if len(cur.Text)+1+len(word) <= b.maxChars {
		cur.Text += " " + word
		return
	}
	b.appendLine(word)
}

// continueWord extends the bottom line's last word with a boundary-less
// fragment. When the result overflows, the partial word moves to a new line
// so it is never split; a single overflowing word starts a new line with
// just the continuation, leaving rendering-level wrap as the last resort.
func (b *Buffer) continueWord(fragment string) {
	cur := &b.lines[len(b.lines)-1]
	joined := cur.Text + fragment
	if len(joined) <= b.maxChars {
		cur.Text = joined
		return
	}

	idx := strings.LastIndex(cur.Text, " ")
	if idx < 0 {
		b.appendLine(fragment)
		return
	}
	partial := cur.Text[idx+1:]
	cur.Text = cur.Text[:idx]
	b.appendLine(partial + fragment)
}

// appendLine opens a new bottom line, evicting the oldest when full.
func (b *Buffer) appendLine(text string) {
	if len(b.lines) == b.maxLines {
		b.lines = b.lines[:copy(b.lines, b.lines[1:])]
	}
	b.lines = append(b.lines, Line{Text: text, LastActive: b.now()})
	b.created++
}

// LinesCreated counts lines ever opened. Callers compare it across a Push
// to learn that the previous bottom line was completed.
func (b *Buffer) LinesCreated() uint64 {
	return b.created
}

// rebuildTail recomputes the dedup reference from the joined content,
// truncated to the most recent tailLen characters.
func (b *Buffer) rebuildTail() {
	texts := make([]string, len(b.lines))
	for i, l := range b.lines {
		texts[i] = l.Text
	}
	joined := strings.Join(texts, " ")
	if len(joined) > tailLen {
		joined = joined[len(joined)-tailLen:]
	}
	b.lastTail = joined
}

func startsWithSpace(s string) bool {
	return len(s) > 0 && unicode.IsSpace(rune(s[0]))
}
