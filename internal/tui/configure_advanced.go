package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
)

// AdvancedSection represents a section in the advanced settings menu
type AdvancedSection string

const (
	AdvancedCapture AdvancedSection = "capture"
	AdvancedSession AdvancedSection = "session"
	AdvancedStorage AdvancedSection = "storage"
	AdvancedBack    AdvancedSection = "back"
)

// editAdvanced handles the advanced settings submenu
func editAdvanced(cfg *config.Config) error {
	for {
		options := []huh.Option[AdvancedSection]{
			huh.NewOption(formatAdvancedCaptureLabel(cfg), AdvancedCapture),
			huh.NewOption(formatAdvancedSessionLabel(cfg), AdvancedSession),
			huh.NewOption(formatAdvancedStorageLabel(cfg), AdvancedStorage),
			huh.NewOption("Back to Main Menu", AdvancedBack),
		}

		var selected AdvancedSection
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[AdvancedSection]().
					Title("Advanced Settings").
					Description("Configure low-level options").
					Options(options...).
					Value(&selected),
			),
		).WithTheme(formTheme())

		if err := form.Run(); err != nil {
			return err
		}

		switch selected {
		case AdvancedBack:
			return nil
		case AdvancedCapture:
			if err := editCapture(cfg); err != nil {
				continue
			}
		case AdvancedSession:
			if err := editSessionLimits(cfg); err != nil {
				continue
			}
		case AdvancedStorage:
			if err := editStorage(cfg); err != nil {
				continue
			}
		}
	}
}

func formatAdvancedCaptureLabel(cfg *config.Config) string {
	device := cfg.Audio.Device
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("Capture (rate=%d, device=%s)", cfg.Audio.SampleRate, device)
}

func formatAdvancedSessionLabel(cfg *config.Config) string {
	return fmt.Sprintf("Session Limits (max=%s, stop timeout=%s)", cfg.Session.MaxDuration, cfg.Session.StopTimeout)
}

func formatAdvancedStorageLabel(cfg *config.Config) string {
	return fmt.Sprintf("Storage & Server (store=%s, listen=%s)", cfg.Store.Driver, cfg.Server.Listen)
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("must be a number")
	}
	return nil
}

func validateDuration(s string) error {
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration format (use '30s', '2m', etc.)")
	}
	return nil
}

// editCapture handles the microphone capture settings
func editCapture(cfg *config.Config) error {
	sampleRate := strconv.Itoa(cfg.Audio.SampleRate)
	channels := strconv.Itoa(cfg.Audio.Channels)
	bufferSize := strconv.Itoa(cfg.Audio.BufferSize)
	channelBufferSize := strconv.Itoa(cfg.Audio.ChannelBufferSize)
	device := cfg.Audio.Device
	command := cfg.Audio.Command

	channelOptions := []huh.Option[string]{
		huh.NewOption("1 (Mono) - Recommended", "1"),
		huh.NewOption("2 (Stereo)", "2"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sample Rate (Hz)").
				Description("Capture rate. Audio is resampled to 16 kHz mono before fan-out.").
				Placeholder("16000").
				Value(&sampleRate).
				Validate(validateInt),
			huh.NewSelect[string]().
				Title("Channels").
				Description("Number of capture channels").
				Options(channelOptions...).
				Value(&channels),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Buffer Size (bytes)").
				Description("Read size from the capture process. Larger = less CPU, more latency.").
				Placeholder("4096").
				Value(&bufferSize).
				Validate(validateInt),
			huh.NewInput().
				Title("Channel Buffer Size").
				Description("Number of audio frames to buffer.").
				Placeholder("20").
				Value(&channelBufferSize).
				Validate(validateInt),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Device").
				Description("PipeWire device name. Empty = default microphone.").
				Placeholder("(default)").
				Value(&device),
			huh.NewInput().
				Title("Capture Command").
				Description("Custom command writing raw s16le PCM to stdout. Overrides device.").
				Placeholder("(pw-record)").
				Value(&command),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Audio.SampleRate, _ = strconv.Atoi(sampleRate)
	cfg.Audio.Channels, _ = strconv.Atoi(channels)
	cfg.Audio.BufferSize, _ = strconv.Atoi(bufferSize)
	cfg.Audio.ChannelBufferSize, _ = strconv.Atoi(channelBufferSize)
	cfg.Audio.Device = device
	cfg.Audio.Command = command

	return nil
}

// editSessionLimits handles duration limits and the retry policy
func editSessionLimits(cfg *config.Config) error {
	maxDuration := cfg.Session.MaxDuration.String()
	stopTimeout := cfg.Session.StopTimeout.String()
	autoRetry := cfg.Session.AutoRetry
	maxRetries := strconv.Itoa(cfg.Session.MaxRetries)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Max Session Duration").
				Description("Live sessions stop after this long (e.g., '10m', '30m'). 0s = no limit.").
				Placeholder("30m").
				Value(&maxDuration).
				Validate(validateDuration),
			huh.NewInput().
				Title("Stop Timeout").
				Description("How long a provider may take to close before it is marked failed.").
				Placeholder("5s").
				Value(&stopTimeout).
				Validate(validateDuration),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Reconnect failed providers automatically?").
				Description("Configuration errors such as a missing key are never retried").
				Value(&autoRetry),
			huh.NewInput().
				Title("Max Attempts").
				Description("Reconnect attempts per provider and session").
				Placeholder("3").
				Value(&maxRetries).
				Validate(validateInt),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Session.MaxDuration, _ = time.ParseDuration(maxDuration)
	cfg.Session.StopTimeout, _ = time.ParseDuration(stopTimeout)
	cfg.Session.AutoRetry = autoRetry
	cfg.Session.MaxRetries, _ = strconv.Atoi(maxRetries)

	return nil
}

// editStorage handles the result store and HTTP listen address
func editStorage(cfg *config.Config) error {
	driver := cfg.Store.Driver
	if driver == "" {
		driver = "memory"
	}
	sqlitePath := cfg.Store.SQLitePath
	redisAddr := cfg.Store.Redis.Addr
	listen := cfg.Server.Listen

	driverOptions := []huh.Option[string]{
		huh.NewOption("Memory (lost on restart)", "memory"),
		huh.NewOption("SQLite file", "sqlite"),
		huh.NewOption("Redis", "redis"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Result Store").
				Description("Where finished session results are kept").
				Options(driverOptions...).
				Value(&driver),
			huh.NewInput().
				Title("HTTP Listen Address").
				Placeholder("127.0.0.1:8080").
				Value(&listen),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SQLite Path").
				Description("Database file for the sqlite store").
				Placeholder("~/.local/share/sttbench/results.db").
				Value(&sqlitePath),
		).WithHideFunc(func() bool { return driver != "sqlite" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Redis Address").
				Placeholder("127.0.0.1:6379").
				Value(&redisAddr),
		).WithHideFunc(func() bool { return driver != "redis" }),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Store.Driver = driver
	cfg.Store.SQLitePath = sqlitePath
	cfg.Store.Redis.Addr = redisAddr
	cfg.Server.Listen = listen

	return nil
}
