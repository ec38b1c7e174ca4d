package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/muesli/termenv"

	"github.com/leonardotrapani/sttbench/internal/config"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

// ConfigSection identifies one entry of the edit menu.
type ConfigSection string

const (
	SectionProviders     ConfigSection = "providers"
	SectionKeys          ConfigSection = "keys"
	SectionLanguage      ConfigSection = "language"
	SectionCadence       ConfigSection = "cadence"
	SectionNotifications ConfigSection = "notifications"
	SectionAdvanced      ConfigSection = "advanced"
	SectionSaveExit      ConfigSection = "save_exit"
	SectionDiscardExit   ConfigSection = "discard_exit"
)

// Run starts the configuration wizard. A config that still matches the
// defaults gets the guided first-run flow, anything else the edit menu.
func Run(existingConfig *config.Config) (*ConfigureResult, error) {
	if existingConfig == nil {
		existingConfig = config.Default()
	}
	if hasUserChanges(existingConfig) {
		return runEditExisting(existingConfig)
	}
	return runFreshInstall(existingConfig)
}

// hasUserChanges reports whether cfg differs from a fresh install
func hasUserChanges(cfg *config.Config) bool {
	if len(cfg.Providers) > 0 {
		return true
	}
	def := config.Default()
	if cfg.Session.Language != def.Session.Language {
		return true
	}
	if len(cfg.Session.Providers) != len(def.Session.Providers) {
		return true
	}
	for i, id := range cfg.Session.Providers {
		if def.Session.Providers[i] != id {
			return true
		}
	}
	return false
}

// sectionEditors maps menu entries to the form that edits them. An editor
// error means the form was aborted and leaves cfg as it was.
var sectionEditors = map[ConfigSection]func(*config.Config) error{
	SectionProviders: func(cfg *config.Config) error {
		selected, err := selectProviders(cfg.Session.Providers)
		if err != nil {
			return err
		}
		cfg.Session.Providers = selected
		return nil
	},
	SectionKeys:          editProviderKeys,
	SectionLanguage:      editLanguage,
	SectionCadence:       editCadence,
	SectionNotifications: editNotifications,
	SectionAdvanced:      editAdvanced,
}

// runEditExisting loops over the section menu until the user saves or
// discards.
func runEditExisting(cfg *config.Config) (*ConfigureResult, error) {
	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(cfg)
		if err != nil || section == SectionDiscardExit {
			return &ConfigureResult{Cancelled: true}, nil
		}

		if section == SectionSaveExit {
			confirmed, err := showSummary(cfg)
			if err != nil {
				return &ConfigureResult{Cancelled: true}, nil
			}
			if confirmed {
				return &ConfigureResult{Config: cfg}, nil
			}
			continue
		}

		if edit, ok := sectionEditors[section]; ok {
			_ = edit(cfg)
		}
	}
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	missing := ""
	if n := len(cfg.MissingKeys()); n > 0 {
		missing = fmt.Sprintf(" • %d provider(s) without a key", n)
	}

	var selected ConfigSection
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("sttbench configuration").
				Description("↑/↓ navigate • enter select • esc cancel" + missing).
				Options(
					huh.NewOption(formatProvidersLabel(cfg), SectionProviders),
					huh.NewOption(formatKeysLabel(cfg), SectionKeys),
					huh.NewOption(formatLanguageMenuLabel(cfg), SectionLanguage),
					huh.NewOption(formatCadenceLabel(cfg), SectionCadence),
					huh.NewOption(formatNotificationsLabel(cfg), SectionNotifications),
					huh.NewOption("Advanced Settings", SectionAdvanced),
					huh.NewOption("Save & Exit", SectionSaveExit),
					huh.NewOption("Discard & Exit", SectionDiscardExit),
				).
				Value(&selected),
		),
	).WithTheme(formTheme())

	err := form.Run()
	return selected, err
}

func clearScreen() {
	termenv.NewOutput(os.Stdout).ClearScreen()
}
