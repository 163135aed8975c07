// Package notify delivers user-facing desktop notifications. Failure to
// notify is never fatal; callers log and continue.
package notify

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Func is the notification interface the core depends on. Implementations
// must be safe for concurrent use.
type Func func(summary, body string, timeout time.Duration) error

// Desktop sends a notification through the freedesktop notification daemon
// via notify-send.
func Desktop(summary, body string, timeout time.Duration) error {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return fmt.Errorf("notify-send not available: %w", err)
	}
	cmd := exec.Command(path,
		"--app-name=subtidal",
		"--expire-time="+strconv.Itoa(int(timeout.Milliseconds())),
		summary, body)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}

// Discard drops notifications; used in tests and headless runs.
func Discard(summary, body string, timeout time.Duration) error {
	return nil
}
