package tui

import (
	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
)

var notificationTypes = []huh.Option[string]{
	huh.NewOption("Desktop popup (notify-send)", "desktop"),
	huh.NewOption("Log line in the serve output", "log"),
}

// editNotifications toggles live session notices and picks how they appear.
func editNotifications(cfg *config.Config) error {
	enabled := cfg.Notifications.Enabled
	kind := cfg.Notifications.Type
	if kind != "log" {
		kind = "desktop"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Notify on live sessions?").
				Description("Sent when a session started with `sttbench start` begins, ends or fails").
				Value(&enabled),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Notification Type").
				Options(notificationTypes...).
				Value(&kind),
		).WithHideFunc(func() bool { return !enabled }),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Notifications.Enabled = enabled
	if enabled {
		cfg.Notifications.Type = kind
	}
	return nil
}
