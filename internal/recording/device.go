package recording

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/logging"
)

type Config struct {
	Cadence

	// Capture format requested from the recorder.
	SampleRate int
	Channels   int
	Format     string
	BufferSize int
	Device     string

	// Command replaces pw-record. It must write raw s16le PCM at SampleRate
	// and Channels to stdout.
	Command string

	ChannelBufferSize int
}

func DefaultConfig() Config {
	return Config{
		Cadence:           Cadence{Mode: ModeContinuous, FrameInterval: DefaultFrameInterval, ChunkInterval: DefaultChunkInterval},
		SampleRate:        audio.CanonicalRate,
		Channels:          1,
		Format:            "s16le",
		BufferSize:        4096,
		ChannelBufferSize: 20,
	}
}

// DeviceSource captures live audio through pw-record or a custom command and
// emits canonical 16 kHz mono frames.
type DeviceSource struct {
	lifecycle
	config Config
	log    zerolog.Logger

	argv []string
}

func NewDeviceSource(config Config) *DeviceSource {
	return &DeviceSource{config: config, log: logging.WithComponent("recording")}
}

func (d *DeviceSource) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateArmed:
		return nil
	case StateRunning, StateStopped:
		return apperr.New(apperr.CodeNotReady, "recording.arm", fmt.Sprintf("source is %s", d.state))
	}

	if err := d.validateConfig(); err != nil {
		return apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.arm", "invalid capture config", err)
	}

	argv, err := d.captureArgs()
	if err != nil {
		return apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.arm", "parse capture command", err)
	}
	if d.config.Command == "" {
		if err := CheckPipeWireAvailable(ctx); err != nil {
			return apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.arm", "PipeWire not available", err)
		}
	} else if _, err := exec.LookPath(argv[0]); err != nil {
		return apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.arm", fmt.Sprintf("%s not found", argv[0]), err)
	}

	d.argv = argv
	d.state = StateArmed
	return nil
}

func (d *DeviceSource) Start(ctx context.Context) (<-chan audio.Frame, <-chan error, error) {
	if d.State() == StateIdle {
		if err := d.Arm(ctx); err != nil {
			return nil, nil, err
		}
	}
	runCtx, err := d.beginRun(ctx)
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.CommandContext(runCtx, d.argv[0], d.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, d.abort(apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.start", "create stdout pipe", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, d.abort(apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.start", "create stderr pipe", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, d.abort(apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.start", "start "+d.argv[0], err))
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			d.log.Debug().Str("line", scanner.Text()).Msg("recording: stderr")
		}
	}()

	frames := make(chan audio.Frame, d.config.ChannelBufferSize)
	errs := make(chan error, 1)
	go d.captureLoop(runCtx, cmd, stdout, frames, errs)

	d.log.Info().Str("command", d.argv[0]).Str("mode", d.config.Mode.String()).Msg("recording: started")
	return frames, errs, nil
}

// abort releases a run whose capture process never started.
func (d *DeviceSource) abort(err error) error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	cancel()
	d.endRun()
	return err
}

func (d *DeviceSource) Stop() error {
	d.stop()
	return nil
}

func (d *DeviceSource) captureLoop(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, frames chan<- audio.Frame, errs chan<- error) {
	fr := newFramer(d.config.Interval(), audio.CanonicalRate, nil)
	defer func() {
		if last, ok := fr.flush(); ok && !sendFlush(frames, last) {
			d.log.Warn().Msg("recording: partial frame not delivered")
		}
		close(frames)
		close(errs)
		_ = cmd.Wait()
		d.endRun()
	}()

	// Whole resampling periods only, so chunked conversion loses no samples.
	align := 2 * d.config.Channels * (d.config.SampleRate / gcd(d.config.SampleRate, audio.CanonicalRate))
	buffer := make([]byte, d.config.BufferSize)
	var carry []byte
	var dropped int
	lastDropLog := time.Now()

	for {
		n, readErr := stdout.Read(buffer)
		if n > 0 {
			data := append(carry, buffer[:n]...)
			whole := len(data) - len(data)%align
			carry = append([]byte(nil), data[whole:]...)

			for _, frame := range fr.push(d.canonical(data[:whole])) {
				select {
				case frames <- frame:
				case <-ctx.Done():
					return
				default:
					dropped++
					if time.Since(lastDropLog) > time.Second {
						d.log.Warn().Int("dropped", dropped).Msg("recording: dropped frames due to backpressure")
						lastDropLog = time.Now()
						dropped = 0
					}
				}
			}
		}

		if readErr != nil {
			if ctx.Err() != nil || errors.Is(readErr, io.EOF) {
				return
			}
			err := apperr.Wrap(apperr.CodeDeviceUnavailable, "recording.capture", "read audio", readErr)
			d.log.Error().Err(err).Msg("recording: capture failed")
			select {
			case errs <- err:
			default:
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// canonical converts captured PCM to 16 kHz mono.
func (d *DeviceSource) canonical(pcm []byte) []byte {
	if d.config.SampleRate == audio.CanonicalRate && d.config.Channels == 1 {
		return pcm
	}
	mono := audio.Downmix(audio.PCM16ToFloat(pcm), d.config.Channels)
	return audio.Encode(mono, d.config.SampleRate, audio.CanonicalRate).PCM
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (d *DeviceSource) captureArgs() ([]string, error) {
	if d.config.Command != "" {
		parser := shellwords.NewParser()
		argv, err := parser.Parse(d.config.Command)
		if err != nil {
			return nil, err
		}
		if len(argv) == 0 {
			return nil, errors.New("capture command is empty")
		}
		return argv, nil
	}

	argv := []string{
		"pw-record",
		"--format", d.config.Format,
		"--rate", strconv.Itoa(d.config.SampleRate),
		"--channels", strconv.Itoa(d.config.Channels),
	}
	if d.config.Device != "" {
		argv = append(argv, "--target", d.config.Device)
	}
	return append(argv, "-"), nil
}

func CheckPipeWireAvailable(ctx context.Context) error {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return fmt.Errorf("pw-record not found: %w (install pipewire-tools)", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := exec.CommandContext(checkCtx, "pw-cli", "info").Run(); err != nil {
		return fmt.Errorf("PipeWire not running or accessible: %w", err)
	}
	return nil
}

func (d *DeviceSource) validateConfig() error {
	if d.config.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", d.config.SampleRate)
	}
	if d.config.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", d.config.Channels)
	}
	if d.config.BufferSize <= 0 {
		return fmt.Errorf("invalid BufferSize: %d", d.config.BufferSize)
	}
	if d.config.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid ChannelBufferSize: %d", d.config.ChannelBufferSize)
	}
	if d.config.Format != "s16le" {
		return fmt.Errorf("unsupported Format: %q", d.config.Format)
	}
	return nil
}
