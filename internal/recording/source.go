// Package recording produces canonical audio frames from a capture device or
// a decoded media file.
package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Mode is the frame cadence. Streaming connections want small continuous
// frames, upload connections want chunks long enough to transcribe alone.
type Mode int

const (
	ModeContinuous Mode = iota
	ModeBatched
)

func (m Mode) String() string {
	if m == ModeBatched {
		return "batched"
	}
	return "continuous"
}

const (
	DefaultFrameInterval = 100 * time.Millisecond
	DefaultChunkInterval = 1500 * time.Millisecond
	flushTimeout         = time.Second
)

// Source is a chunk source: idle -> armed -> running -> stopped.
type Source interface {
	// Arm acquires the device or decodes the file. Start arms implicitly.
	Arm(ctx context.Context) error
	// Start begins emitting frames. Both channels close when the source stops.
	Start(ctx context.Context) (<-chan audio.Frame, <-chan error, error)
	// Stop flushes a buffered partial frame and is a no-op once stopped.
	Stop() error
	State() State
}

// Paced is a source whose playback waits for its consumer. When Lossless
// reports true, nothing downstream should drop its frames.
type Paced interface {
	Source
	Lossless() bool
}

// Cadence is the frame length for a mode.
type Cadence struct {
	Mode          Mode
	FrameInterval time.Duration
	ChunkInterval time.Duration
}

func (c Cadence) Interval() time.Duration {
	if c.Mode == ModeBatched {
		if c.ChunkInterval > 0 {
			return c.ChunkInterval
		}
		return DefaultChunkInterval
	}
	if c.FrameInterval > 0 {
		return c.FrameInterval
	}
	return DefaultFrameInterval
}

// lifecycle guards the state transitions shared by every source.
type lifecycle struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) beginRun(ctx context.Context) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateArmed {
		return nil, apperr.New(apperr.CodeNotReady, "recording.start", fmt.Sprintf("source is %s", l.state))
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = StateRunning
	return runCtx, nil
}

// endRun marks the run finished; the capture goroutine calls it last.
func (l *lifecycle) endRun() {
	l.mu.Lock()
	l.state = StateStopped
	done := l.done
	l.mu.Unlock()
	close(done)
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	switch l.state {
	case StateStopped:
		l.mu.Unlock()
		return
	case StateIdle, StateArmed:
		l.state = StateStopped
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

// framer cuts a PCM byte stream into frames of a fixed length.
type framer struct {
	rate  int
	size  int
	buf   []byte
	seq   uint64
	clock func() time.Time
}

func newFramer(interval time.Duration, rate int, clock func() time.Time) *framer {
	size := audio.BytesFor(interval, rate)
	if size < 2 {
		size = 2
	}
	if clock == nil {
		clock = time.Now
	}
	return &framer{rate: rate, size: size, clock: clock}
}

// push appends pcm and returns every complete frame.
func (f *framer) push(pcm []byte) []audio.Frame {
	f.buf = append(f.buf, pcm...)
	var out []audio.Frame
	for len(f.buf) >= f.size {
		out = append(out, f.frame(f.buf[:f.size]))
		f.buf = f.buf[f.size:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return out
}

// flush returns the buffered partial frame, if any.
func (f *framer) flush() (audio.Frame, bool) {
	n := len(f.buf) &^ 1
	if n == 0 {
		f.buf = nil
		return audio.Frame{}, false
	}
	fr := f.frame(f.buf[:n])
	f.buf = nil
	return fr, true
}

func (f *framer) frame(pcm []byte) audio.Frame {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	fr := audio.Frame{
		Seq:        f.seq,
		SampleRate: f.rate,
		Channels:   1,
		PCM:        data,
		Timestamp:  f.clock(),
	}
	f.seq++
	return fr
}

// sendFlush delivers the final partial frame, giving a slow reader a bounded
// grace period.
func sendFlush(frames chan<- audio.Frame, fr audio.Frame) bool {
	t := time.NewTimer(flushTimeout)
	defer t.Stop()
	select {
	case frames <- fr:
		return true
	case <-t.C:
		return false
	}
}
