package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/language"
)

// getLanguageOptions lists the supported languages with the current one marked.
func getLanguageOptions(current string) []huh.Option[string] {
	langs := language.List()
	options := make([]huh.Option[string], 0, len(langs))
	for _, l := range langs {
		if l.Code == "" {
			continue
		}
		label := fmt.Sprintf("%s (%s)", l.Name, l.Code)
		if l.NativeName != "" && l.NativeName != l.Name {
			label = fmt.Sprintf("%s - %s (%s)", l.Name, l.NativeName, l.Code)
		}
		if l.Code == current {
			label += " (current)"
		}
		options = append(options, huh.NewOption(label, l.Code))
	}
	return options
}

// editLanguage selects the session language shared by all providers
func editLanguage(cfg *config.Config) error {
	selected := cfg.Session.Language
	if selected == "" {
		selected = language.Default
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Session Language").
				Description("Sent to every provider in its own format; references are scored in this language").
				Options(getLanguageOptions(selected)...).
				Filtering(true).
				Value(&selected),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Session.Language = selected
	return nil
}
