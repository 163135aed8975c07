package caption

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testClock is a manually advanced time source.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1000, 0)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBuffer(maxLines, maxChars int, expire time.Duration) (*Buffer, *testClock) {
	clock := newTestClock()
	return NewBuffer(maxLines, maxChars, expire, WithClock(clock.Now)), clock
}

func TestSingleLineFill(t *testing.T) {
	b, _ := newTestBuffer(3, 20, 8*time.Second)

	b.Push(" Hello")
	b.Push(" world")
	b.Push(" this")

	assert.Equal(t, "Hello world this", b.DisplayText())
	assert.Equal(t, 1, b.LineCount())
}

func TestOverflowToSecondLine(t *testing.T) {
	b, _ := newTestBuffer(3, 20, 8*time.Second)

	for _, f := range []string{" Hello", " world", " this", " is", " a", " caption"} {
		b.Push(f)
	}

	lines := strings.Split(b.DisplayText(), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "caption")
	assert.NotContains(t, lines[0], "capt")
}

func TestShiftOnFull(t *testing.T) {
	b, _ := newTestBuffer(3, 10, 8*time.Second)

	b.Push(" firstline")
	b.Push(" secondline")
	b.Push(" thirdline")
	require.Equal(t, 3, b.LineCount())
	require.Equal(t, "firstline", b.Lines()[0].Text)

	b.Push(" fourthline")

	assert.Equal(t, 3, b.LineCount())
	lines := b.Lines()
	assert.NotEqual(t, "firstline", lines[0].Text)
	assert.Equal(t, "fourthline", lines[2].Text)
}

func TestContinuationJoin(t *testing.T) {
	b, _ := newTestBuffer(3, 20, 8*time.Second)

	b.Push(" Hel")
	b.Push("lo")

	assert.Equal(t, "Hello", b.DisplayText())
	assert.Equal(t, 1, b.LineCount())
}

func TestContinuationOverflowMovesPartial(t *testing.T) {
	b, _ := newTestBuffer(3, 20, 8*time.Second)

	b.Push(" aaaa bbbb cccc dddd eeee")
	require.Equal(t, []string{"aaaa bbbb cccc dddd", "eeee"},
		strings.Split(b.DisplayText(), "\n"))

	// Force the partial off a full bottom line: rebuild state where the
	// continuation overflows the line holding eeee.
	b2, _ := newTestBuffer(3, 20, 8*time.Second)
	b2.Push(" aaaa bbbb cccc eeee")
	require.Equal(t, "aaaa bbbb cccc eeee", b2.DisplayText())
	b2.Push("ffff")

	lines := strings.Split(b2.DisplayText(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "aaaa bbbb cccc", lines[0])
	assert.Equal(t, "eeeeffff", lines[1])
}

func TestOverlapDedup(t *testing.T) {
	b, _ := newTestBuffer(3, 30, 8*time.Second)

	b.Push(" the quick")
	b.Push(" quick brown")

	assert.Equal(t, "the quick brown", b.DisplayText())
}

func TestDedupIdenticalFragment(t *testing.T) {
	b, _ := newTestBuffer(3, 30, 8*time.Second)

	b.Push(" Hello")
	b.Push(" Hello")

	assert.Equal(t, "Hello", b.DisplayText())
}

func TestShortRepeatsSurvive(t *testing.T) {
	// Genuinely repeated words below the overlap threshold are kept.
	b, _ := newTestBuffer(3, 30, 8*time.Second)

	b.Push(" no")
	b.Push(" no")

	assert.Equal(t, "no no", b.DisplayText())
}

func TestExpiryDrain(t *testing.T) {
	b, clock := newTestBuffer(3, 10, 8*time.Second)

	b.Push(" firstline")
	b.Push(" secondline")
	b.Push(" thirdline")
	require.Equal(t, 3, b.LineCount())

	clock.Advance(9 * time.Second)

	assert.True(t, b.ExpireTick())
	assert.Equal(t, 2, b.LineCount())
	assert.True(t, b.ExpireTick())
	assert.True(t, b.ExpireTick())
	assert.Equal(t, 0, b.LineCount())
	assert.False(t, b.ExpireTick())
}

func TestActiveLinesNeverExpire(t *testing.T) {
	b, clock := newTestBuffer(3, 30, 8*time.Second)

	b.Push(" hello")
	clock.Advance(7 * time.Second)
	b.Push(" again") // refreshes the bottom line
	clock.Advance(2 * time.Second)

	assert.False(t, b.ExpireTick())
	assert.Equal(t, 1, b.LineCount())
}

func TestExpireZeroCoercion(t *testing.T) {
	b, clock := newTestBuffer(3, 30, 0)

	b.Push(" hello")
	clock.Advance(5 * time.Second)
	assert.False(t, b.ExpireTick(), "default expiry should apply, not zero")
	clock.Advance(4 * time.Second)
	assert.True(t, b.ExpireTick())
}

func TestUpdateConfig(t *testing.T) {
	b, clock := newTestBuffer(3, 30, 8*time.Second)

	b.Push(" one two three")
	b.UpdateConfig(10, 2*time.Second)
	b.Push(" fourfive")

	lines := strings.Split(b.DisplayText(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "fourfive", lines[1])

	clock.Advance(3 * time.Second)
	assert.True(t, b.ExpireTick())
}

func TestSetMaxLinesShrink(t *testing.T) {
	b, _ := newTestBuffer(4, 10, 8*time.Second)

	for _, f := range []string{" aline", " bline", " cline", " dline"} {
		b.Push(f)
	}
	require.Equal(t, 4, b.LineCount())

	b.SetMaxLines(2)

	assert.Equal(t, 2, b.LineCount())
	assert.Equal(t, []string{"cline", "dline"},
		strings.Split(b.DisplayText(), "\n"))
}

func TestReplaceText(t *testing.T) {
	b, _ := newTestBuffer(3, 30, 8*time.Second)

	b.Push(" hello world")
	require.Equal(t, 1, b.LineCount())

	original := b.Lines()[0].Text
	assert.True(t, b.ReplaceText(original, "Hello, world."))
	assert.Contains(t, b.DisplayText(), "Hello, world.")
	assert.False(t, b.ReplaceText("not present", "x"))
	assert.False(t, b.ReplaceText("Hello, world.", "Hello, world."), "no-op replacement")
}

func TestDegenerateLongWord(t *testing.T) {
	b, _ := newTestBuffer(3, 10, 8*time.Second)

	b.Push(" extraordinarily")

	assert.Equal(t, "extraordinarily", b.DisplayText())
	assert.Equal(t, 1, b.LineCount())
}

// Capacity invariant: the line count never exceeds max_lines, for any
// fragment sequence.
func TestCapacityInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxLines := rapid.IntRange(1, 5).Draw(t, "maxLines")
		maxChars := rapid.IntRange(4, 30).Draw(t, "maxChars")
		b := NewBuffer(maxLines, maxChars, 8*time.Second)

		n := rapid.IntRange(1, 40).Draw(t, "fragments")
		for i := 0; i < n; i++ {
			frag := rapid.StringMatching(` ?[a-z]{1,12}( [a-z]{1,12}){0,3}`).Draw(t, "frag")
			b.Push(frag)
			assert.LessOrEqual(t, b.LineCount(), maxLines)
		}
	})
}

// Width invariant: a line only exceeds max_chars_per_line when it holds a
// single word longer than the budget (the documented escape hatch). Words
// are never split otherwise.
func TestNoSplitInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxChars := rapid.IntRange(4, 25).Draw(t, "maxChars")
		b := NewBuffer(3, maxChars, 8*time.Second)

		n := rapid.IntRange(1, 30).Draw(t, "fragments")
		for i := 0; i < n; i++ {
			frag := rapid.StringMatching(` ?[a-z]{1,30}`).Draw(t, "frag")
			b.Push(frag)

			for _, line := range strings.Split(b.DisplayText(), "\n") {
				if len(line) > maxChars {
					assert.NotContains(t, line, " ",
						"an overlong line must be a single word")
				}
			}
		}
	})
}

// Dedup idempotence: pushing the same multi-character fragment twice in a
// row is equivalent to pushing it once whenever the overlap threshold is
// met.
func TestDedupIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frag := " " + rapid.StringMatching(`[a-z]{4,12}`).Draw(t, "word")

		once := NewBuffer(3, 20, 8*time.Second)
		once.Push(frag)

		twice := NewBuffer(3, 20, 8*time.Second)
		twice.Push(frag)
		twice.Push(frag)

		assert.Equal(t, once.DisplayText(), twice.DisplayText())
	})
}

// Gradual drain: with no pushes, successive ticks remove at most one line
// each, always the oldest, and empty the buffer in LineCount ticks.
func TestGradualDrainInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newTestClock()
		b := NewBuffer(5, 10, 8*time.Second, WithClock(clock.Now))

		n := rapid.IntRange(1, 5).Draw(t, "lines")
		for i := 0; i < n; i++ {
			b.Push(" wordyline")
			b.Push(" otherword") // may extend or open lines
		}
		start := b.LineCount()
		clock.Advance(time.Minute)

		for i := 0; i < start; i++ {
			before := b.Lines()
			require.True(t, b.ExpireTick())
			after := b.Lines()
			require.Equal(t, len(before)-1, len(after))
			if len(after) > 0 {
				assert.Equal(t, before[1].Text, after[0].Text, "oldest line removed first")
			}
		}
		assert.False(t, b.ExpireTick())
		assert.Equal(t, 0, b.LineCount())
	})
}
