package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jslandau/subtidal/internal/config"
)

func TestTerminalRendersCaptions(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, nil)

	commands := make(chan Command, 8)
	fragments := make(chan string)
	close(fragments)

	commands <- SetCaption("hello\nworld")
	commands <- Quit()
	term.Run(commands, fragments)

	assert.Contains(t, out.String(), "hello\nworld")
}

func TestTerminalHonorsVisibility(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, nil)

	commands := make(chan Command, 8)
	commands <- SetVisible(false)
	commands <- SetCaption("invisible text")
	commands <- Quit()
	term.Run(commands, nil)

	assert.NotContains(t, out.String(), "invisible text")
}

func TestTerminalExitsOnClosedChannel(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, nil)

	commands := make(chan Command)
	close(commands)
	term.Run(commands, nil)
}

func TestTerminalRepaintErasesPreviousBlock(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, nil)

	commands := make(chan Command, 8)
	commands <- SetCaption("one\ntwo")
	commands <- SetCaption("three")
	commands <- Quit()
	term.Run(commands, nil)

	// The second caption erases the two painted lines; Quit erases the one
	// remaining line.
	assert.Equal(t, 3, strings.Count(out.String(), "\033[2K"))
}

func TestCommandConstructors(t *testing.T) {
	cmd := SetMode(config.ModeFloating, config.EdgeTop, config.Position{X: 4, Y: 5})
	assert.Equal(t, KindSetMode, cmd.Kind)
	assert.Equal(t, config.ModeFloating, cmd.Mode)
	assert.Equal(t, 4, cmd.Position.X)

	assert.Equal(t, KindSetLocked, SetLocked(true).Kind)
	assert.True(t, SetLocked(true).Locked)
	assert.Equal(t, KindUpdateAppearance, UpdateAppearance(config.AppearanceConfig{}).Kind)
}
