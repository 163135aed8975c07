// Package render defines the channel contract between the caption core and
// the overlay renderer. The core never calls into the renderer
// synchronously: display state travels as commands on one channel and raw
// caption fragments on another. The overlay window itself (toolkit, CSS,
// click-through) is an external collaborator; a terminal renderer ships here
// as its stand-in.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/jslandau/subtidal/internal/config"
)

// Kind discriminates renderer commands.
type Kind int

const (
	KindSetVisible Kind = iota
	KindSetMode
	KindSetLocked
	KindUpdateAppearance
	KindSetCaption
	KindQuit
)

// Command is one instruction to the renderer. Only the fields relevant to
// Kind are populated.
type Command struct {
	Kind       Kind
	Visible    bool
	Mode       config.OverlayMode
	Edge       config.ScreenEdge
	Position   config.Position
	Locked     bool
	Appearance config.AppearanceConfig
	Caption    string
}

// SetVisible shows or hides the overlay.
func SetVisible(v bool) Command {
	return Command{Kind: KindSetVisible, Visible: v}
}

// SetMode docks or floats the overlay. Edge applies when docked, Position
// when floating.
func SetMode(mode config.OverlayMode, edge config.ScreenEdge, pos config.Position) Command {
	return Command{Kind: KindSetMode, Mode: mode, Edge: edge, Position: pos}
}

// SetLocked toggles click-through.
func SetLocked(locked bool) Command {
	return Command{Kind: KindSetLocked, Locked: locked}
}

// UpdateAppearance applies hot-reloaded display parameters.
func UpdateAppearance(a config.AppearanceConfig) Command {
	return Command{Kind: KindUpdateAppearance, Appearance: a}
}

// SetCaption replaces the displayed caption text. Newlines are hard breaks.
func SetCaption(text string) Command {
	return Command{Kind: KindSetCaption, Caption: text}
}

// Quit tells the renderer to finalize and exit.
func Quit() Command {
	return Command{Kind: KindQuit}
}

// Terminal is a minimal renderer writing captions to a terminal. It keeps
// the binary usable without a compositor and exercises the full renderer
// contract in tests and headless runs.
type Terminal struct {
	w       io.Writer
	logger  *log.Logger
	visible bool
	lines   int // lines of the previous caption, for repaint
}

// NewTerminal creates a terminal renderer writing to w.
func NewTerminal(w io.Writer, logger *log.Logger) *Terminal {
	if logger == nil {
		logger = log.Default()
	}
	return &Terminal{w: w, logger: logger, visible: true}
}

// Run consumes the command and fragment channels until Quit or until the
// command channel is closed. Raw fragments are logged at debug level; the display model
// arrives via SetCaption.
func (t *Terminal) Run(commands <-chan Command, fragments <-chan string) {
	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if t.apply(cmd) {
				return
			}
		case frag, ok := <-fragments:
			if !ok {
				fragments = nil
				continue
			}
			t.logger.Debug("fragment", "text", frag)
		}
	}
}

// apply executes one command; reports whether the renderer should exit.
func (t *Terminal) apply(cmd Command) bool {
	switch cmd.Kind {
	case KindSetVisible:
		t.visible = cmd.Visible
		if !t.visible {
			t.repaint("")
		}
	case KindSetCaption:
		if t.visible {
			t.repaint(cmd.Caption)
		}
	case KindSetMode:
		t.logger.Debug("overlay mode", "mode", cmd.Mode, "edge", cmd.Edge)
	case KindSetLocked:
		t.logger.Debug("overlay locked", "locked", cmd.Locked)
	case KindUpdateAppearance:
		t.logger.Debug("appearance updated",
			"width", cmd.Appearance.Width,
			"font_size", cmd.Appearance.FontSize,
			"max_lines", cmd.Appearance.MaxLines)
	case KindQuit:
		t.repaint("")
		return true
	}
	return false
}

// repaint erases the previous caption block and writes the new one.
func (t *Terminal) repaint(text string) {
	for i := 0; i < t.lines; i++ {
		fmt.Fprint(t.w, "\033[1A\033[2K")
	}
	t.lines = 0
	if text == "" {
		return
	}
	fmt.Fprintln(t.w, text)
	t.lines = strings.Count(text, "\n") + 1
}
