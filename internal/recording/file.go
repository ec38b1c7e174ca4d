package recording

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/logging"
)

// FileConfig describes a decoded media file played back as a source.
// Exactly one of Path or Reader is used; Reader wins when both are set.
type FileConfig struct {
	Cadence
	Path   string
	Reader io.ReadSeeker

	// Realtime paces frames at their audio duration instead of emitting
	// them as fast as the reader consumes them.
	Realtime          bool
	ChannelBufferSize int
}

// FileSource plays a WAV or MP3 file as canonical frames. Sends block, so a
// slow consumer slows playback instead of losing audio.
type FileSource struct {
	lifecycle
	config FileConfig
	log    zerolog.Logger

	pcm      []byte
	duration time.Duration
}

func NewFileSource(config FileConfig) *FileSource {
	if config.ChannelBufferSize <= 0 {
		config.ChannelBufferSize = 20
	}
	return &FileSource{config: config, log: logging.WithComponent("recording")}
}

// Arm decodes the whole file. Decode failures carry FILE_DECODE_ERROR.
func (f *FileSource) Arm(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateArmed:
		return nil
	case StateRunning, StateStopped:
		return apperr.New(apperr.CodeNotReady, "recording.arm", "source is "+f.state.String())
	}

	var (
		clip *audio.Clip
		err  error
	)
	switch {
	case f.config.Reader != nil:
		clip, err = audio.Decode(f.config.Reader)
	case f.config.Path != "":
		clip, err = audio.DecodeFile(f.config.Path)
	default:
		err = apperr.New(apperr.CodeFileDecodeError, "recording.arm", "no media file given")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeFileDecodeError, "recording.arm", "decode media file", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.pcm = audio.Encode(clip.Samples, clip.SampleRate, audio.CanonicalRate).PCM
	f.duration = clip.Duration()
	f.state = StateArmed
	return nil
}

var _ Paced = (*FileSource)(nil)

// Duration is the decoded length of the file; zero before Arm.
func (f *FileSource) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

// Lossless reports whether playback is paced by the consumer. A realtime
// replay behaves like a microphone and may lose frames.
func (f *FileSource) Lossless() bool {
	return !f.config.Realtime
}

func (f *FileSource) Start(ctx context.Context) (<-chan audio.Frame, <-chan error, error) {
	if f.State() == StateIdle {
		if err := f.Arm(ctx); err != nil {
			return nil, nil, err
		}
	}
	runCtx, err := f.beginRun(ctx)
	if err != nil {
		return nil, nil, err
	}

	frames := make(chan audio.Frame, f.config.ChannelBufferSize)
	errs := make(chan error)
	go f.playLoop(runCtx, frames, errs)

	f.log.Info().Dur("duration", f.duration).Str("mode", f.config.Mode.String()).Msg("recording: playing file")
	return frames, errs, nil
}

func (f *FileSource) Stop() error {
	f.stop()
	return nil
}

func (f *FileSource) playLoop(ctx context.Context, frames chan<- audio.Frame, errs chan<- error) {
	defer func() {
		close(frames)
		close(errs)
		f.endRun()
	}()

	interval := f.config.Interval()
	fr := newFramer(interval, audio.CanonicalRate, nil)
	step := fr.size

	var tick <-chan time.Time
	if f.config.Realtime {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off < len(f.pcm); off += step {
		end := min(off+step, len(f.pcm))
		ready := fr.push(f.pcm[off:end])
		if end == len(f.pcm) {
			if last, ok := fr.flush(); ok {
				ready = append(ready, last)
			}
		}

		for _, frame := range ready {
			if tick != nil && frame.Seq > 0 {
				select {
				case <-tick:
				case <-ctx.Done():
					sendFlush(frames, frame)
					return
				}
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				sendFlush(frames, frame)
				return
			}
		}
	}
}
