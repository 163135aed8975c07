package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareTracksRendererFields(t *testing.T) {
	old := Default()

	cfg := old.Clone()
	cfg.Appearance.FontSize = 24
	assert.True(t, Compare(old, cfg).AppearanceChanged)
	assert.False(t, Compare(old, cfg).ModeChanged)

	cfg = old.Clone()
	cfg.OverlayMode = ModeFloating
	assert.True(t, Compare(old, cfg).ModeChanged)

	cfg = old.Clone()
	cfg.ScreenEdge = EdgeTop
	assert.True(t, Compare(old, cfg).EdgeChanged)

	cfg = old.Clone()
	cfg.Locked = true
	assert.True(t, Compare(old, cfg).LockedChanged)

	cfg = old.Clone()
	cfg.Correction.Enabled = true
	assert.True(t, Compare(old, cfg).CorrectionChanged)
}

func TestCompareIgnoresWriteBackFields(t *testing.T) {
	// Source, engine, and position are persisted by the application itself;
	// the watcher must not bounce those writes back as commands.
	old := Default()
	cfg := old.Clone()
	cfg.Engine = "other"
	cfg.AudioSource = AudioSourceConfig{Type: SourceApplication, NodeID: 9, NodeName: "x"}
	cfg.Position = Position{X: 300, Y: 200}

	assert.False(t, Compare(old, cfg).Changed())
}

func TestCompareIdentical(t *testing.T) {
	old := Default()
	assert.False(t, Compare(old, old.Clone()).Changed())
}
