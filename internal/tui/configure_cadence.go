package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/leonardotrapani/sttbench/internal/config"
)

var frameIntervals = []time.Duration{
	100 * time.Millisecond,
	160 * time.Millisecond,
	250 * time.Millisecond,
}

var chunkIntervals = []time.Duration{
	1000 * time.Millisecond,
	1500 * time.Millisecond,
	2000 * time.Millisecond,
	5000 * time.Millisecond,
}

func durationOptions(values []time.Duration, current time.Duration, recommended time.Duration) []huh.Option[time.Duration] {
	options := make([]huh.Option[time.Duration], 0, len(values)+1)
	found := false
	for _, d := range values {
		label := d.String()
		if d == recommended {
			label += " - Recommended"
		}
		if d == current {
			found = true
		}
		options = append(options, huh.NewOption(label, d))
	}
	if !found && current > 0 {
		options = append(options, huh.NewOption(current.String()+" (current)", current))
	}
	return options
}

// editCadence picks the frame size for streaming providers and the chunk
// size for upload providers.
func editCadence(cfg *config.Config) error {
	def := config.Default()
	frame := cfg.Audio.FrameInterval
	chunk := cfg.Audio.ChunkInterval

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[time.Duration]().
				Title("Streaming Frame Size").
				Description("Audio per frame sent to streaming and WebRTC providers").
				Options(durationOptions(frameIntervals, frame, def.Audio.FrameInterval)...).
				Value(&frame),
			huh.NewSelect[time.Duration]().
				Title("Upload Chunk Size").
				Description("Audio per request sent to batch providers").
				Options(durationOptions(chunkIntervals, chunk, def.Audio.ChunkInterval)...).
				Value(&chunk).
				Validate(func(d time.Duration) error {
					if d < frame {
						return fmt.Errorf("chunk must not be shorter than a frame (%s)", frame)
					}
					return nil
				}),
		),
	).WithTheme(formTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Audio.FrameInterval = frame
	cfg.Audio.ChunkInterval = chunk
	return nil
}
