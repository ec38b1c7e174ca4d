package recording

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SampleRate != 16000 {
		t.Errorf("default sample rate should be 16000, got %d", config.SampleRate)
	}
	if config.Channels != 1 {
		t.Errorf("default channels should be 1, got %d", config.Channels)
	}
	if config.Format != "s16le" {
		t.Errorf("default format should be s16le, got %s", config.Format)
	}
	if config.Mode != ModeContinuous {
		t.Errorf("default mode should be continuous, got %s", config.Mode)
	}
	if config.Interval() != 100*time.Millisecond {
		t.Errorf("default interval should be 100ms, got %v", config.Interval())
	}
}

func TestCadenceInterval(t *testing.T) {
	tests := []struct {
		name    string
		cadence Cadence
		want    time.Duration
	}{
		{"continuous default", Cadence{Mode: ModeContinuous}, 100 * time.Millisecond},
		{"batched default", Cadence{Mode: ModeBatched}, 1500 * time.Millisecond},
		{"continuous custom", Cadence{Mode: ModeContinuous, FrameInterval: 250 * time.Millisecond}, 250 * time.Millisecond},
		{"batched custom", Cadence{Mode: ModeBatched, ChunkInterval: 2 * time.Second, FrameInterval: time.Millisecond}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cadence.Interval(); got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFramer(t *testing.T) {
	fr := newFramer(100*time.Millisecond, 16000, nil)

	if got := fr.push(make([]byte, 3000)); len(got) != 0 {
		t.Fatalf("push below frame size returned %d frames", len(got))
	}
	got := fr.push(make([]byte, 3500))
	if len(got) != 2 {
		t.Fatalf("push returned %d frames, want 2", len(got))
	}
	for i, f := range got {
		if f.Seq != uint64(i) || len(f.PCM) != 3200 || f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d = seq %d len %d rate %d ch %d", i, f.Seq, len(f.PCM), f.SampleRate, f.Channels)
		}
	}

	// 100 bytes left over, plus one stray byte that never forms a sample.
	fr.push([]byte{1})
	last, ok := fr.flush()
	if !ok || len(last.PCM) != 100 || last.Seq != 2 {
		t.Fatalf("flush() = seq %d len %d ok %v, want seq 2 len 100", last.Seq, len(last.PCM), ok)
	}
	if _, ok := fr.flush(); ok {
		t.Error("second flush should be empty")
	}
}

func TestFramerCopiesInput(t *testing.T) {
	fr := newFramer(time.Millisecond, 16000, nil)
	in := make([]byte, 32)
	frames := fr.push(in)
	in[0] = 0xff
	if frames[0].PCM[0] != 0 {
		t.Error("frame shares memory with the pushed buffer")
	}
}

func TestDeviceSourceValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid default config", func(*Config) {}, false},
		{"invalid sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }, true},
		{"invalid channels", func(c *Config) { c.Channels = 0 }, true},
		{"invalid buffer size", func(c *Config) { c.BufferSize = 0 }, true},
		{"invalid channel buffer size", func(c *Config) { c.ChannelBufferSize = 0 }, true},
		{"unsupported format", func(c *Config) { c.Format = "f32le" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := NewDeviceSource(config).validateConfig()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDeviceSourceCaptureArgs(t *testing.T) {
	config := DefaultConfig()
	config.Device = "alsa_input.usb"
	argv, err := NewDeviceSource(config).captureArgs()
	if err != nil {
		t.Fatalf("captureArgs() error = %v", err)
	}
	want := []string{"pw-record", "--format", "s16le", "--rate", "16000", "--channels", "1", "--target", "alsa_input.usb", "-"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}

	config.Command = `arecord -f S16_LE -D "hw:1,0" -`
	argv, err = NewDeviceSource(config).captureArgs()
	if err != nil {
		t.Fatalf("captureArgs() error = %v", err)
	}
	if len(argv) != 6 || argv[4] != "hw:1,0" {
		t.Errorf("custom argv = %q", argv)
	}
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func collect(t *testing.T, frames <-chan audio.Frame) []audio.Frame {
	t.Helper()
	var out []audio.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatalf("frames not closed, got %d so far", len(out))
		}
	}
}

func TestDeviceSourceCustomCommand(t *testing.T) {
	requireBinary(t, "head")

	tests := []struct {
		name     string
		command  string
		rate     int
		channels int
		lengths  []int
	}{
		{"canonical pass-through", "head -c 6400 /dev/zero", 16000, 1, []int{3200, 3200}},
		{"partial frame flushed", "head -c 5000 /dev/zero", 16000, 1, []int{3200, 1800}},
		{"stereo downmixed", "head -c 12800 /dev/zero", 16000, 2, []int{3200, 3200}},
		{"resampled from 48k", "head -c 19200 /dev/zero", 48000, 1, []int{3200, 3200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Command = tt.command
			config.SampleRate = tt.rate
			config.Channels = tt.channels

			src := NewDeviceSource(config)
			frames, errs, err := src.Start(context.Background())
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			got := collect(t, frames)
			if err, ok := <-errs; ok {
				t.Fatalf("unexpected capture error: %v", err)
			}

			if len(got) != len(tt.lengths) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.lengths))
			}
			for i, f := range got {
				if len(f.PCM) != tt.lengths[i] || f.Seq != uint64(i) || f.SampleRate != audio.CanonicalRate {
					t.Errorf("frame %d: len %d seq %d rate %d", i, len(f.PCM), f.Seq, f.SampleRate)
				}
			}
			if src.State() != StateStopped {
				t.Errorf("state = %s, want stopped", src.State())
			}
		})
	}
}

func TestDeviceSourceMissingBinary(t *testing.T) {
	config := DefaultConfig()
	config.Command = "definitely-not-a-recorder --raw"

	src := NewDeviceSource(config)
	_, _, err := src.Start(context.Background())
	if !apperr.IsCode(err, apperr.CodeDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want DEVICE_UNAVAILABLE", err)
	}
	if src.State() != StateIdle {
		t.Errorf("state = %s, want idle", src.State())
	}
}

func TestDeviceSourceStopIsIdempotent(t *testing.T) {
	requireBinary(t, "sleep")

	config := DefaultConfig()
	config.Command = "sleep 30"
	src := NewDeviceSource(config)
	frames, _, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if src.State() != StateRunning {
		t.Fatalf("state = %s, want running", src.State())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Stop()
		_ = src.Stop()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked")
	}

	if got := collect(t, frames); len(got) != 0 {
		t.Errorf("got %d frames from a silent recorder", len(got))
	}
	if src.State() != StateStopped {
		t.Errorf("state = %s, want stopped", src.State())
	}
	if _, _, err := src.Start(context.Background()); !apperr.IsCode(err, apperr.CodeNotReady) {
		t.Errorf("restart error = %v, want NOT_READY", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	src := NewFileSource(FileConfig{Path: "unused.wav"})
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if src.State() != StateStopped {
		t.Errorf("state = %s, want stopped", src.State())
	}
}

func writeWAV(t *testing.T, d time.Duration, rate int) string {
	t.Helper()
	pcm := make([]byte, audio.BytesFor(d, rate))
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i] = byte(i)
	}
	data, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSourceModes(t *testing.T) {
	path := writeWAV(t, 250*time.Millisecond, 16000)

	tests := []struct {
		name    string
		cadence Cadence
		lengths []int
	}{
		{"continuous", Cadence{Mode: ModeContinuous}, []int{3200, 3200, 1600}},
		{"batched", Cadence{Mode: ModeBatched}, []int{8000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewFileSource(FileConfig{Cadence: tt.cadence, Path: path})
			if err := src.Arm(context.Background()); err != nil {
				t.Fatalf("Arm() error = %v", err)
			}
			if src.State() != StateArmed {
				t.Fatalf("state = %s, want armed", src.State())
			}
			if src.Duration() != 250*time.Millisecond {
				t.Errorf("Duration() = %v", src.Duration())
			}

			frames, _, err := src.Start(context.Background())
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			got := collect(t, frames)
			if len(got) != len(tt.lengths) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.lengths))
			}
			for i, f := range got {
				if len(f.PCM) != tt.lengths[i] || f.Seq != uint64(i) {
					t.Errorf("frame %d: len %d seq %d", i, len(f.PCM), f.Seq)
				}
			}
			if err := src.Stop(); err != nil {
				t.Errorf("Stop() error = %v", err)
			}
		})
	}
}

func TestFileSourceResamples(t *testing.T) {
	path := writeWAV(t, 200*time.Millisecond, 8000)
	src := NewFileSource(FileConfig{Cadence: Cadence{Mode: ModeBatched}, Path: path})
	frames, _, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got := collect(t, frames)
	if len(got) != 1 || len(got[0].PCM) != 6400 {
		t.Fatalf("got %d frames, want one 200ms frame at 16kHz", len(got))
	}
}

func TestFileSourceDecodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("not audio at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		config FileConfig
	}{
		{"garbage file", FileConfig{Path: path}},
		{"missing file", FileConfig{Path: filepath.Join(t.TempDir(), "nope.mp3")}},
		{"no input", FileConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewFileSource(tt.config)
			frames, _, err := src.Start(context.Background())
			if !apperr.IsCode(err, apperr.CodeFileDecodeError) {
				t.Fatalf("Start() error = %v, want FILE_DECODE_ERROR", err)
			}
			if frames != nil {
				t.Error("frames channel returned on decode failure")
			}
			if src.State() != StateIdle {
				t.Errorf("state = %s, want idle", src.State())
			}
		})
	}
}

func TestFileSourceStopMidPlayback(t *testing.T) {
	path := writeWAV(t, 2*time.Second, 16000)
	src := NewFileSource(FileConfig{Cadence: Cadence{Mode: ModeContinuous}, Path: path, Realtime: true})
	frames, _, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame before stop")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	rest := collect(t, frames)
	if len(rest) >= 19 {
		t.Errorf("got %d more frames, playback did not stop", len(rest))
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if src.State() != StateStopped {
		t.Errorf("state = %s, want stopped", src.State())
	}
}
