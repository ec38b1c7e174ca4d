package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// runFreshInstall runs the full configuration wizard for fresh installs
func runFreshInstall(cfg *config.Config) (*ConfigureResult, error) {
	fmt.Println(Logo())
	fmt.Println()
	fmt.Println(StyleMuted.Render("Side-by-side speech-to-text benchmarking"))
	fmt.Println()

	selected, err := selectProviders(cfg.Session.Providers)
	if err != nil {
		return &ConfigureResult{Cancelled: true}, nil
	}
	if len(selected) == 0 {
		return &ConfigureResult{Cancelled: true}, fmt.Errorf("no providers selected")
	}
	cfg.Session.Providers = selected

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}
	for _, id := range selected {
		def, ok := provider.Get(id)
		if !ok || !def.RequiresAPIKey || cfg.ResolveAPIKey(id) != "" {
			continue
		}
		apiKey, err := inputAPIKey(def)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}
		if apiKey != "" {
			pc := cfg.Providers[id]
			pc.APIKey = apiKey
			cfg.Providers[id] = pc
		}
	}

	if err := editLanguage(cfg); err != nil {
		return &ConfigureResult{Cancelled: true}, nil
	}

	if err := editCadence(cfg); err != nil {
		return &ConfigureResult{Cancelled: true}, nil
	}

	if err := editNotifications(cfg); err != nil {
		return &ConfigureResult{Cancelled: true}, nil
	}

	confirmed, err := showSummary(cfg)
	if err != nil || !confirmed {
		return &ConfigureResult{Cancelled: true}, nil
	}

	return &ConfigureResult{Config: cfg, Cancelled: false}, nil
}

// selectProviders asks which registry providers a session compares.
func selectProviders(current []string) ([]string, error) {
	selected := append([]string(nil), current...)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Which providers should a session compare?").
				Description("Every selected provider receives the same audio").
				Options(providerOptions()...).
				Value(&selected).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one provider")
					}
					return nil
				}),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return nil, err
	}

	return validProviders(selected), nil
}

// validProviders keeps registry ids in registry order.
func validProviders(selected []string) []string {
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	valid := make([]string, 0, len(selected))
	for _, id := range provider.IDs() {
		if chosen[id] {
			valid = append(valid, id)
		}
	}
	return valid
}
