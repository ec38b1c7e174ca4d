package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// maskAPIKey returns a masked version of an API key for display
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

func transportLabel(t provider.Transport) string {
	switch t {
	case provider.TransportUpload:
		return "batch"
	case provider.TransportStream:
		return "streaming"
	case provider.TransportPeer:
		return "webrtc"
	default:
		return string(t)
	}
}

// providerOptions lists every registry provider with its transport.
func providerOptions() []huh.Option[string] {
	defs := provider.List()
	options := make([]huh.Option[string], 0, len(defs))
	for _, def := range defs {
		label := fmt.Sprintf("%s [%s]", def.Name, transportLabel(def.Transport))
		if !def.RequiresAPIKey {
			label += " (no key)"
		}
		options = append(options, huh.NewOption(label, def.ID))
	}
	return options
}

// formatKeyOption formats a key menu option with status
func formatKeyOption(cfg *config.Config, def provider.Definition) string {
	status := "(not configured)"
	if pc, ok := cfg.Providers[def.ID]; ok && pc.APIKey != "" {
		status = "(configured)"
	} else if def.APIKeyEnv != "" && cfg.ResolveAPIKey(def.ID) != "" {
		status = fmt.Sprintf("(from $%s)", def.APIKeyEnv)
	}
	return fmt.Sprintf("%s %s", def.Name, status)
}

// editProviderKeys lets the user set keys for enabled providers that need one.
func editProviderKeys(cfg *config.Config) error {
	defaultToExit := false

	for {
		var options []huh.Option[string]
		for _, id := range cfg.Session.Providers {
			def, ok := provider.Get(id)
			if !ok || !def.RequiresAPIKey {
				continue
			}
			options = append(options, huh.NewOption(formatKeyOption(cfg, def), id))
		}
		if len(options) == 0 {
			fmt.Println(StyleMuted.Render("None of the enabled providers needs an API key."))
			return nil
		}
		options = append(options, huh.NewOption("Done", "back"))

		selected := ""
		if defaultToExit {
			selected = "back"
		}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("API Keys").
					Description("Keys in the config file take precedence over environment variables").
					Options(options...).
					Value(&selected),
			),
		).WithTheme(formTheme())

		if err := form.Run(); err != nil {
			return err
		}

		if selected == "back" {
			return nil
		}

		apiKey, err := configureSingleProvider(cfg, provider.MustGet(selected))
		if err != nil {
			continue
		}

		if apiKey != "" {
			if cfg.Providers == nil {
				cfg.Providers = make(map[string]config.ProviderConfig)
			}
			pc := cfg.Providers[selected]
			pc.APIKey = apiKey
			cfg.Providers[selected] = pc
			defaultToExit = true
		}
	}
}

// configureSingleProvider asks before replacing an existing key and returns
// the new key, or "" when the user kept the current one.
func configureSingleProvider(cfg *config.Config, def provider.Definition) (string, error) {
	if pc, exists := cfg.Providers[def.ID]; exists && pc.APIKey != "" {
		var update bool
		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%s API Key", def.Name)).
					Description(fmt.Sprintf("Current: %s", maskAPIKey(pc.APIKey))).
					Affirmative("Update key").
					Negative("Keep current").
					Value(&update),
			),
		).WithTheme(formTheme())

		if err := confirmForm.Run(); err != nil {
			return "", err
		}

		if !update {
			return "", nil
		}
	}

	return inputAPIKey(def)
}

// inputAPIKey prompts for a key. An empty answer leaves the key to the
// provider's environment variable.
func inputAPIKey(def provider.Definition) (string, error) {
	desc := fmt.Sprintf("Enter your %s API key", def.Vendor)
	if def.APIKeyEnv != "" {
		desc += fmt.Sprintf(" or leave empty to use $%s", def.APIKeyEnv)
	}

	var apiKey string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("%s API Key", def.Name)).
				Description(desc).
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return "", err
	}

	return apiKey, nil
}
