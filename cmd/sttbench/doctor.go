package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/sttbench/internal/deps"
	"github.com/leonardotrapani/sttbench/internal/tui"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the external tools and provider keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println(tui.StyleHeader.Render("Tools"))
	statuses := deps.CheckAll(ctx)
	for _, tool := range deps.Tools {
		st := statuses[tool.Name]
		switch {
		case st.Installed:
			fmt.Printf("  %s %-12s %s\n", tui.StyleSuccess.Render("ok"), tool.Name, tui.StyleMuted.Render(st.Version))
		case tool.Required && cfg.Audio.Command == "":
			fmt.Printf("  %s %-12s needed for %s\n", tui.StyleError.Render("!!"), tool.Name, tool.Purpose)
		default:
			fmt.Printf("  %s %-12s optional, used for %s\n", tui.StyleWarning.Render("--"), tool.Name, tool.Purpose)
		}
	}

	fmt.Println()
	fmt.Println(tui.StyleHeader.Render("Providers"))
	missing := cfg.MissingKeys()
	if len(missing) == 0 {
		fmt.Println("  " + tui.StyleSuccess.Render("every enabled provider has a key"))
		return nil
	}
	for _, m := range missing {
		fmt.Printf("  %s %s\n", tui.StyleWarning.Render("missing"), m)
	}
	return nil
}
