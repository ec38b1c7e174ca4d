// Package orchestrator fans one audio stream out to many provider
// connections and merges their transcripts into one feed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/tracing"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

const (
	DefaultStopTimeout = 5 * time.Second
	DefaultQueueSize   = 32
	DefaultEventBuffer = 1024
	DefaultChunk       = 1500 * time.Millisecond
)

// RetryPolicy restarts Failed connections with capped exponential backoff.
// Fatal errors are never retried.
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Enabled: true, MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
}

// Delay is the wait before restart attempt n, counted from zero.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay << n
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

type Config struct {
	SessionID   string
	StopTimeout time.Duration
	QueueSize   int
	EventBuffer int
	// ChunkInterval is the audio gathered per request for upload providers.
	ChunkInterval time.Duration
	Retry         RetryPolicy
	Metrics       *metrics.Metrics
	// Lossless makes OnFrame and the pumps wait for room instead of
	// dropping frames. Only sources that can be paced, like a file replay,
	// should set it.
	Lossless bool
}

func (c Config) withDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunk
	}
	if c.Retry.Enabled && c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	return c
}

// Target is one provider to run in the session.
type Target struct {
	Definition provider.Definition
	Options    transcriber.Options
}

// Factory builds a connection; transcriber.New in production.
type Factory func(def provider.Definition, opts transcriber.Options) transcriber.Connection

// Status is a snapshot of one connection.
type Status struct {
	ProviderID string            `json:"providerId"`
	State      transcriber.State `json:"-"`
	StateName  string            `json:"state"`
	Restarts   int               `json:"restarts"`
	Terminal   bool              `json:"terminal"`
}

type Orchestrator struct {
	cfg     Config
	factory Factory
	log     zerolog.Logger

	mu      sync.RWMutex
	members []*member
	started bool
	stopped bool

	events    chan transcriber.Event
	halt      chan struct{}
	retryCtx  context.Context
	stopRetry context.CancelFunc
	runCtx    context.Context
	cancelRun context.CancelFunc
	// dispatch bounds lossless waits; it ends with the caller's context
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc

	forwarders sync.WaitGroup
	pumps      sync.WaitGroup
	retries    sync.WaitGroup
}

func New(cfg Config, factory Factory) *Orchestrator {
	if factory == nil {
		factory = transcriber.New
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		factory: factory,
		log:     logging.WithSession("orchestrator", cfg.SessionID),
		events:  make(chan transcriber.Event, cfg.EventBuffer),
		halt:    make(chan struct{}),
	}
}

// Start creates one connection per target and starts them all in parallel.
// A provider that fails to start never affects the others; its error is
// returned in the map and also published on Events. Cancelling ctx while
// the handshakes run aborts them and Start returns ctx's error; once Start
// returns, the connections live until Stop.
func (o *Orchestrator) Start(ctx context.Context, targets []Target) (map[string]error, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, errors.New("orchestrator already started")
	}
	if len(targets) == 0 {
		o.mu.Unlock()
		return nil, errors.New("no providers enabled")
	}
	o.started = true
	o.runCtx, o.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	o.retryCtx, o.stopRetry = context.WithCancel(o.runCtx)
	o.dispatchCtx, o.cancelDispatch = context.WithCancel(ctx)

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t.Definition.ID] {
			continue
		}
		seen[t.Definition.ID] = true
		if t.Options.SessionID == "" {
			t.Options.SessionID = o.cfg.SessionID
		}
		if t.Options.Metrics == nil {
			t.Options.Metrics = o.cfg.Metrics
		}
		stopAfter := o.cfg.StopTimeout
		if o.cfg.Lossless {
			// backpressure reaches the pump instead of piling up in the
			// connection, and Stop allows the last requests to finish
			t.Options.QueueSize = 1
			rt := t.Options.RequestTimeout
			if rt <= 0 {
				rt = transcriber.DefaultRequestTimeout
			}
			stopAfter += 2 * rt
		}
		m := newMember(t.Definition, o.factory(t.Definition, t.Options), o.cfg)
		m.stopAfter = stopAfter
		o.members = append(o.members, m)
	}
	members := o.members
	o.mu.Unlock()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionsActive.Inc()
	}

	for _, m := range members {
		o.forwarders.Add(1)
		go o.forward(m)
		o.pumps.Add(1)
		go o.pump(m)
	}

	spanCtx, span := tracing.Start(ctx, "orchestrator.start")
	defer span.End()

	abort := context.AfterFunc(ctx, o.cancelRun)

	var (
		g        errgroup.Group
		failMu   sync.Mutex
		failures = make(map[string]error)
	)
	for _, m := range members {
		m := m
		g.Go(func() error {
			_, s := tracing.Start(spanCtx, "transcriber.start", tracing.Provider(m.id))
			err := m.conn.Start(o.runCtx)
			tracing.End(s, err)
			if err != nil {
				failMu.Lock()
				failures[m.id] = err
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if !abort() {
		o.log.Warn().Err(ctx.Err()).Msg("orchestrator: start cancelled")
		return failures, ctx.Err()
	}
	o.log.Info().Int("providers", len(members)).Int("failed", len(failures)).Msg("orchestrator: session started")
	return failures, nil
}

// OnFrame hands frame to every connection without blocking. A saturated or
// unready connection loses the frame; the others are unaffected. In lossless
// mode it waits for queue room instead, until the Start context ends.
func (o *Orchestrator) OnFrame(frame audio.Frame) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.started || o.stopped {
		return
	}
	for _, m := range o.members {
		switch m.conn.State() {
		case transcriber.StateConnecting, transcriber.StateConnected, transcriber.StateStreaming:
		default:
			o.dropped(m, "not_ready")
			continue
		}
		if o.cfg.Lossless {
			select {
			case m.queue <- frame.Clone():
			case <-o.dispatchCtx.Done():
				o.dropped(m, "cancelled")
			}
			continue
		}
		select {
		case m.queue <- frame.Clone():
		default:
			o.dropped(m, "queue_full")
		}
	}
}

func (o *Orchestrator) dropped(m *member, reason string) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.FramesDropped.WithLabelValues(m.id, reason).Inc()
	}
}

// Events is the merged feed of every connection, tagged by provider id.
// It closes when Stop returns.
func (o *Orchestrator) Events() <-chan transcriber.Event {
	return o.events
}

func (o *Orchestrator) Status() []Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Status, 0, len(o.members))
	for _, m := range o.members {
		st := m.conn.State()
		restarts, terminal := m.snapshot()
		out = append(out, Status{
			ProviderID: m.id,
			State:      st,
			StateName:  st.String(),
			Restarts:   restarts,
			Terminal:   terminal,
		})
	}
	return out
}

// Stop flushes queued audio, stops every connection concurrently and waits
// up to the stop timeout for each. A connection that does not close in time
// is abandoned. In lossless mode the queues drain completely unless ctx
// ends first. Stop is idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	members := o.members
	for _, m := range members {
		close(m.queue)
	}
	o.mu.Unlock()

	o.stopRetry()

	pumpsDone := make(chan struct{})
	go func() {
		o.pumps.Wait()
		close(pumpsDone)
	}()
	var drainTimeout <-chan time.Time
	if !o.cfg.Lossless {
		drainTimeout = time.After(o.cfg.StopTimeout)
	}
	select {
	case <-pumpsDone:
	case <-drainTimeout:
		o.log.Warn().Msg("orchestrator: audio queues did not drain in time")
	case <-ctx.Done():
		o.log.Warn().Msg("orchestrator: audio queues abandoned")
	}
	o.cancelDispatch()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		stopErrs []error
	)
	for _, m := range members {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, m.stopAfter)
			defer cancel()
			err := m.conn.Stop(stopCtx)
			if stopCtx.Err() == nil && err == nil {
				return
			}
			o.log.Warn().Err(err).Str("provider", m.id).Msg("orchestrator: connection abandoned")
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.ConnectionsStuck.WithLabelValues(m.id).Inc()
			}
			close(m.abandon)
			if err != nil {
				errMu.Lock()
				stopErrs = append(stopErrs, fmt.Errorf("%s: %w", m.id, err))
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	// a restart racing Stop finds the connection stopped and gives up
	o.retries.Wait()

	fwdDone := make(chan struct{})
	go func() {
		o.forwarders.Wait()
		close(fwdDone)
	}()
	select {
	case <-fwdDone:
	case <-time.After(o.cfg.StopTimeout):
		close(o.halt)
		<-fwdDone
	}
	close(o.events)
	o.cancelRun()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionsActive.Dec()
	}
	o.log.Info().Int("abandoned", len(stopErrs)).Msg("orchestrator: session stopped")
	return errors.Join(stopErrs...)
}

// forward copies one connection's events into the merged feed and restarts
// the connection when it fails.
func (o *Orchestrator) forward(m *member) {
	defer o.forwarders.Done()
	for {
		var (
			ev transcriber.Event
			ok bool
		)
		select {
		case ev, ok = <-m.conn.Events():
			if !ok {
				return
			}
		case <-m.abandon:
			return
		}

		o.publish(ev)
		if ev.IsError() {
			o.onError(m, ev)
		}
	}
}

func (o *Orchestrator) publish(ev transcriber.Event) {
	select {
	case o.events <- ev:
	case <-o.halt:
	}
}

func (o *Orchestrator) onError(m *member, ev transcriber.Event) {
	if m.conn.State() != transcriber.StateFailed {
		return
	}
	if ev.Fatal || !o.cfg.Retry.Enabled {
		m.markTerminal()
		return
	}

	attempt, ok := m.reserveRetry(o.cfg.Retry.MaxAttempts)
	if !ok {
		if m.markTerminal() {
			o.log.Error().Str("provider", m.id).Int("attempts", attempt).Msg("orchestrator: giving up on connection")
			notice := apperr.Notice{
				ProviderID: m.id,
				Code:       ev.Error.Code,
				Message:    fmt.Sprintf("giving up after %d restarts: %s", attempt, ev.Error.Message),
			}
			o.publish(transcriber.Event{ProviderID: m.id, TimestampMs: ev.TimestampMs, Error: &notice, Fatal: true})
		}
		return
	}

	o.mu.RLock()
	stopped := o.stopped
	if !stopped {
		o.retries.Add(1)
	}
	o.mu.RUnlock()
	if stopped {
		m.releaseRetry()
		return
	}

	delay := o.cfg.Retry.Delay(attempt)
	o.log.Info().Str("provider", m.id).Int("attempt", attempt+1).Dur("delay", delay).Msg("orchestrator: restarting connection")
	go func() {
		defer o.retries.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-o.retryCtx.Done():
			m.releaseRetry()
			return
		}
		// a failing Start reports through Events, which schedules the next attempt
		m.releaseRetry()
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.ConnectionRestarts.WithLabelValues(m.id).Inc()
		}
		if err := m.conn.Start(o.runCtx); err != nil {
			o.log.Warn().Err(err).Str("provider", m.id).Msg("orchestrator: restart failed")
		}
	}()
}

// pump feeds one connection from its queue. Upload providers get frames
// gathered into chunks; the rest get every frame as it comes.
func (o *Orchestrator) pump(m *member) {
	defer o.pumps.Done()
	for frame := range m.queue {
		if !m.batched {
			o.submit(m, frame)
			continue
		}
		if chunk, ok := m.batch.add(frame); ok {
			o.submit(m, chunk)
		}
	}
	if chunk, ok := m.batch.flush(); ok {
		o.submit(m, chunk)
	}
}

func (o *Orchestrator) submit(m *member, frame audio.Frame) {
	var err error
	if w, ok := m.conn.(transcriber.BlockingSubmitter); ok && o.cfg.Lossless {
		err = w.SubmitWait(o.dispatchCtx, frame)
	} else {
		err = m.conn.Submit(frame)
	}
	if err != nil {
		o.dropped(m, "rejected")
		return
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.FramesDispatched.WithLabelValues(m.id).Inc()
	}
}
