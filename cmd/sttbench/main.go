package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/sttbench/internal/bus"
	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/tui"
)

var (
	configPath string
	logLevel   string
	noColor    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "sttbench",
	Short:        "Compare speech-to-text providers side by side",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		tui.SetColor(!noColor)
		return config.LoadEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/sttbench/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable styled output")

	rootCmd.AddCommand(
		serveCmd(),
		runCmd(),
		evaluateCmd(),
		providersCmd(),
		configureCmd(),
		doctorCmd(),
		controlCmd("start", "Start a live session in the running daemon", bus.CmdStart),
		controlCmd("stop", "Finish the live session", bus.CmdStop),
		controlCmd("status", "Get the daemon and session status", bus.CmdStatus),
		controlCmd("version", "Get protocol version", bus.CmdVersion),
		controlCmd("quit", "Stop the daemon", bus.CmdQuit),
	)
}

// loadConfig reads the config file (defaults when absent) and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}

func controlCmd(use, short string, command byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := bus.DefaultEndpoint()
			if err != nil {
				return err
			}
			resp, err := endpoint.SendCommand(command)
			if err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			fmt.Println(resp)
			return nil
		},
	}
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		Long: `Interactive configuration wizard for sttbench.
This will guide you through setting up:
- Which providers take part in a session
- Provider API keys
- Session language and audio cadence
- Storage, server and notification preferences`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure()
		},
	}
}

func runConfigure() error {
	path := configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result, err := tui.Run(cfg)
	if err != nil {
		return fmt.Errorf("configuration wizard error: %w", err)
	}
	if result.Cancelled {
		fmt.Println("Configuration cancelled.")
		return nil
	}

	if err := result.Config.Validate(); err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		return err
	}
	if err := config.Save(result.Config, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("Configuration saved successfully!")
	fmt.Println()
	showNextSteps(path)
	return nil
}

func showNextSteps(path string) {
	serviceRunning := exec.Command("systemctl", "--user", "is-active", "--quiet", "sttbench.service").Run() == nil

	fmt.Println("Next Steps:")
	if !serviceRunning {
		fmt.Println("1. Start the server: sttbench serve (or systemctl --user start sttbench.service)")
	} else {
		fmt.Println("1. Restart the service to apply changes: systemctl --user restart sttbench.service")
	}
	fmt.Println("2. Try a file: sttbench run --file sample.wav --reference reference.yaml")
	fmt.Println()
	fmt.Printf("Config file location: %s\n", path)
}
