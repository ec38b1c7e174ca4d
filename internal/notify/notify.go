// Package notify tells the desktop user when a live session starts, ends or
// fails.
package notify

import (
	"fmt"
	"os/exec"

	"github.com/leonardotrapani/sttbench/internal/logging"
)

type Notifier interface {
	SessionChanged(on bool, sessionID string)
	Error(msg string)
}

// New returns the notifier for kind: desktop, log or none.
func New(enabled bool, kind string) Notifier {
	if !enabled {
		return Nop{}
	}
	switch kind {
	case "desktop":
		return Desktop{}
	case "log":
		return Log{}
	default:
		return Nop{}
	}
}

func sessionMessage(on bool, sessionID string) string {
	state := "Ended"
	if on {
		state = "Started"
	}
	return fmt.Sprintf("sttbench: Session %s (%s)", state, sessionID)
}

// Desktop sends notify-send popups.
type Desktop struct{}

func (Desktop) SessionChanged(on bool, sessionID string) {
	cmd := exec.Command("notify-send", "-a", "sttbench", sessionMessage(on, sessionID))
	if err := cmd.Run(); err != nil {
		l := logging.WithComponent("notify")
		l.Debug().Err(err).Msg("notify: failed to send notification")
	}
}

func (Desktop) Error(msg string) {
	cmd := exec.Command("notify-send", "-a", "sttbench", "-u", "critical", msg)
	if err := cmd.Run(); err != nil {
		l := logging.WithComponent("notify")
		l.Debug().Err(err).Msg("notify: failed to send error notification")
	}
}

// Log writes notifications to the process log.
type Log struct{}

func (Log) SessionChanged(on bool, sessionID string) {
	l := logging.WithComponent("notify")
	l.Info().Msg(sessionMessage(on, sessionID))
}

func (Log) Error(msg string) {
	l := logging.WithComponent("notify")
	l.Error().Msg("sttbench: " + msg)
}

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) SessionChanged(bool, string) {}
func (Nop) Error(string)                {}
