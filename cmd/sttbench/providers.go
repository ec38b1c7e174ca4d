package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/tui"
)

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported providers and their key status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, def := range provider.List() {
				printProviderLine(cfg, def)
			}
			return nil
		},
	}
}

func printProviderLine(cfg *config.Config, def provider.Definition) {
	enabled := " "
	for _, id := range cfg.Session.Providers {
		if id == def.ID {
			enabled = "*"
			break
		}
	}

	key := tui.StyleSuccess.Render("key set")
	switch {
	case !def.RequiresAPIKey:
		key = tui.StyleMuted.Render("no key needed")
	case cfg.ResolveAPIKey(def.ID) == "":
		key = tui.StyleWarning.Render("missing " + def.APIKeyEnv)
	}

	fmt.Printf("%s %-24s %-8s %s\n", enabled, def.ID, def.Transport, key)
}
