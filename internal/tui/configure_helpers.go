package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/language"
)

func formatProvidersLabel(cfg *config.Config) string {
	return fmt.Sprintf("Providers (%d enabled)", len(cfg.Session.Providers))
}

func formatKeysLabel(cfg *config.Config) string {
	if missing := cfg.MissingKeys(); len(missing) > 0 {
		return fmt.Sprintf("API Keys (%d missing)", len(missing))
	}
	return "API Keys"
}

// formatLanguageMenuLabel formats the language menu option showing current setting
func formatLanguageMenuLabel(cfg *config.Config) string {
	lang := language.FromCode(cfg.Session.Language)
	if lang.Code == "" {
		return "Language (Auto-detect)"
	}
	return fmt.Sprintf("Language (%s)", lang.Name)
}

func formatCadenceLabel(cfg *config.Config) string {
	return fmt.Sprintf("Cadence (frame=%s, chunk=%s)", cfg.Audio.FrameInterval, cfg.Audio.ChunkInterval)
}

func formatNotificationsLabel(cfg *config.Config) string {
	if cfg.Notifications.Enabled {
		return fmt.Sprintf("Notifications (%s)", cfg.Notifications.Type)
	}
	return "Notifications (off)"
}

// summaryLines renders the configuration summary shown before saving.
func summaryLines(cfg *config.Config) []string {
	var lines []string
	add := func(label, value string) {
		lines = append(lines, fmt.Sprintf("  %s %s", StyleLabel.Render(label), value))
	}

	add("Providers:", strings.Join(cfg.Session.Providers, ", "))
	add("Language:", cfg.Session.Language)
	add("Cadence:", fmt.Sprintf("frame %s, chunk %s", cfg.Audio.FrameInterval, cfg.Audio.ChunkInterval))
	if missing := cfg.MissingKeys(); len(missing) > 0 {
		add("Missing keys:", StyleWarning.Render(strings.Join(missing, ", ")))
	}
	if cfg.Session.AutoRetry {
		add("Retry:", fmt.Sprintf("up to %d attempts", cfg.Session.MaxRetries))
	} else {
		add("Retry:", "disabled")
	}
	add("Store:", cfg.Store.Driver)
	add("Server:", cfg.Server.Listen)

	if cfg.Notifications.Enabled {
		add("Notifications:", cfg.Notifications.Type)
	} else {
		add("Notifications:", "disabled")
	}
	return lines
}

func showSummary(cfg *config.Config) (bool, error) {
	fmt.Println()
	fmt.Println(StyleHeader.Render("Configuration Summary"))
	fmt.Println()
	for _, line := range summaryLines(cfg) {
		fmt.Println(line)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println()
		fmt.Println(StyleError.Render("Configuration is invalid: " + err.Error()))
	}
	fmt.Println()

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Save").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return false, err
	}

	return confirmed, nil
}
