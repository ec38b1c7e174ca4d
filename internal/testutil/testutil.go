package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, configContent string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	return configPath
}

// TestContext returns a context with timeout for testing
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met within %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// MockFrame creates a canonical test frame of d length.
func MockFrame(seq uint64, d time.Duration) audio.Frame {
	pcm := audio.Silence(d, audio.CanonicalRate)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	return audio.Frame{
		Seq:        seq,
		SampleRate: audio.CanonicalRate,
		Channels:   1,
		PCM:        pcm,
		Timestamp:  time.Now(),
	}
}

// MockConnection implements transcriber.Connection for testing.
type MockConnection struct {
	Provider string
	// StartErr decides the outcome of the n-th Start call, counted from 1.
	StartErr func(n int) error
	// StopBlock, when set, holds Stop until it closes or ctx expires.
	StopBlock chan struct{}

	mu      sync.Mutex
	state   transcriber.State
	frames  []audio.Frame
	starts  int
	stopped bool
	events  chan transcriber.Event
}

func NewMockConnection(providerID string) *MockConnection {
	return &MockConnection{
		Provider: providerID,
		events:   make(chan transcriber.Event, 64),
	}
}

func (m *MockConnection) ID() string { return m.Provider }

func (m *MockConnection) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return apperr.New(apperr.CodeNotReady, "start", "connection stopped").ForProvider(m.Provider)
	}
	m.starts++
	n := m.starts
	m.state = transcriber.StateConnecting
	m.mu.Unlock()

	var err error
	if m.StartErr != nil {
		err = m.StartErr(n)
	}
	if err != nil {
		m.Fail(err)
		return err
	}

	m.mu.Lock()
	m.state = transcriber.StateConnected
	m.mu.Unlock()
	return nil
}

func (m *MockConnection) Submit(frame audio.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Accepting() {
		return apperr.New(apperr.CodeNotReady, "submit", "connection is "+m.state.String()).ForProvider(m.Provider)
	}
	m.state = transcriber.StateStreaming
	m.frames = append(m.frames, frame)
	return nil
}

func (m *MockConnection) Events() <-chan transcriber.Event { return m.events }

func (m *MockConnection) State() transcriber.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockConnection) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	if m.state != transcriber.StateFailed {
		m.state = transcriber.StateClosing
	}
	m.mu.Unlock()

	if m.StopBlock != nil {
		select {
		case <-m.StopBlock:
		case <-ctx.Done():
			return apperr.Wrap(apperr.CodeServerUnavailable, "stop", "connection did not close in time", ctx.Err()).ForProvider(m.Provider)
		}
	}

	m.mu.Lock()
	if m.state == transcriber.StateClosing {
		m.state = transcriber.StateDisconnected
	}
	m.mu.Unlock()
	close(m.events)
	return nil
}

// Fail moves the connection to Failed and emits err.
func (m *MockConnection) Fail(err error) {
	m.mu.Lock()
	m.state = transcriber.StateFailed
	m.mu.Unlock()

	notice := apperr.NoticeOf(m.Provider, err)
	m.events <- transcriber.Event{
		ProviderID:  m.Provider,
		TimestampMs: time.Now().UnixMilli(),
		Error:       &notice,
		Fatal:       transcriber.IsFatal(err),
	}
}

// EmitFinal publishes a final transcript.
func (m *MockConnection) EmitFinal(text string, tsMs int64) {
	m.events <- transcriber.Event{ProviderID: m.Provider, Text: text, TimestampMs: tsMs, IsFinal: true}
}

func (m *MockConnection) Frames() []audio.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audio.Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *MockConnection) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// MockFactory builds connections from a fixed set of mocks keyed by
// provider id, creating plain ones for unknown ids.
type MockFactory struct {
	mu    sync.Mutex
	Conns map[string]*MockConnection
}

func NewMockFactory(conns ...*MockConnection) *MockFactory {
	f := &MockFactory{Conns: make(map[string]*MockConnection)}
	for _, c := range conns {
		f.Conns[c.Provider] = c
	}
	return f
}

func (f *MockFactory) New(def provider.Definition, _ transcriber.Options) transcriber.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Conns[def.ID]
	if !ok {
		c = NewMockConnection(def.ID)
		f.Conns[def.ID] = c
	}
	return c
}

// MockSource implements recording.Source over a fixed list of frames.
type MockSource struct {
	Frames   []audio.Frame
	StartErr error

	mu    sync.Mutex
	state recording.State
	stop  chan struct{}
	done  chan struct{}
}

func NewMockSource(frames ...audio.Frame) *MockSource {
	return &MockSource{Frames: frames}
}

func (m *MockSource) Arm(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	if m.state == recording.StateIdle {
		m.state = recording.StateArmed
	}
	return nil
}

func (m *MockSource) Start(ctx context.Context) (<-chan audio.Frame, <-chan error, error) {
	if err := m.Arm(ctx); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	if m.state != recording.StateArmed {
		m.mu.Unlock()
		return nil, nil, apperr.New(apperr.CodeNotReady, "recording.start", "source is "+m.state.String())
	}
	m.state = recording.StateRunning
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	frames := make(chan audio.Frame, len(m.Frames)+1)
	errs := make(chan error)
	go func() {
		defer func() {
			close(frames)
			close(errs)
			m.mu.Lock()
			m.state = recording.StateStopped
			m.mu.Unlock()
			close(done)
		}()
		for _, f := range m.Frames {
			select {
			case frames <- f:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return frames, errs, nil
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	if m.state != recording.StateRunning {
		m.state = recording.StateStopped
		m.mu.Unlock()
		return nil
	}
	stop, done := m.stop, m.done
	m.stop = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	<-done
	return nil
}

func (m *MockSource) State() recording.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
