package orchestrator

import (
	"sync"
	"time"

	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

// member is one connection and its dispatch state.
type member struct {
	id        string
	conn      transcriber.Connection
	queue     chan audio.Frame
	abandon   chan struct{}
	batched   bool
	batch     *batcher
	stopAfter time.Duration // bounds the connection's Stop

	mu       sync.Mutex
	restarts int
	retrying bool
	terminal bool
}

func newMember(def provider.Definition, conn transcriber.Connection, cfg Config) *member {
	return &member{
		id:        def.ID,
		conn:      conn,
		queue:     make(chan audio.Frame, cfg.QueueSize),
		abandon:   make(chan struct{}),
		batched:   def.Batched(),
		batch:     &batcher{chunk: cfg.ChunkInterval},
		stopAfter: cfg.StopTimeout,
	}
}

// reserveRetry claims the next restart attempt. It fails once max attempts
// are spent; a retry already in flight is reported as taken.
func (m *member) reserveRetry(max int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal || m.retrying {
		return m.restarts, false
	}
	if m.restarts >= max {
		return m.restarts, false
	}
	n := m.restarts
	m.restarts++
	m.retrying = true
	return n, true
}

func (m *member) releaseRetry() {
	m.mu.Lock()
	m.retrying = false
	m.mu.Unlock()
}

// markTerminal reports whether this call made the member terminal.
func (m *member) markTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal || m.retrying {
		return false
	}
	m.terminal = true
	return true
}

func (m *member) snapshot() (restarts int, terminal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts, m.terminal
}

// batcher gathers canonical frames into chunks of at least chunk length.
type batcher struct {
	chunk   time.Duration
	pending []byte
	first   audio.Frame
	rate    int
}

func (b *batcher) add(f audio.Frame) (audio.Frame, bool) {
	if len(b.pending) == 0 {
		b.first = f
		b.rate = f.SampleRate
	}
	if f.SampleRate != b.rate {
		f.PCM = audio.ResamplePCM(f.PCM, f.SampleRate, b.rate)
	}
	b.pending = append(b.pending, f.PCM...)
	if len(b.pending) < audio.BytesFor(b.chunk, b.rate) {
		return audio.Frame{}, false
	}
	return b.flush()
}

func (b *batcher) flush() (audio.Frame, bool) {
	if len(b.pending) == 0 {
		return audio.Frame{}, false
	}
	out := audio.Frame{
		Seq:        b.first.Seq,
		SampleRate: b.rate,
		Channels:   1,
		PCM:        b.pending,
		Timestamp:  b.first.Timestamp,
	}
	b.pending = nil
	return out, true
}
