// Package pipeline runs one benchmark session: a chunk source feeding the
// orchestrator, with the merged feed recorded and the result stored.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/events"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/orchestrator"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/store"
	"github.com/leonardotrapani/sttbench/internal/tracing"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

type Status string
type Action string

const (
	Idle       Status = "idle"
	Connecting Status = "connecting"
	Streaming  Status = "streaming"
	Finishing  Status = "finishing"
)

const (
	// Finish stops the source; buffered audio is still delivered and the
	// session result is produced as usual.
	Finish Action = "finish"
)

const saveTimeout = 10 * time.Second

var (
	ErrNoTargets = errors.New("pipeline: no providers selected")
	ErrNoSource  = errors.New("pipeline: no audio source")
)

type Config struct {
	Session      *session.Session
	Source       recording.Source
	Targets      []orchestrator.Target
	Orchestrator orchestrator.Config
	Factory      orchestrator.Factory
	Publisher    *events.Publisher
	Store        store.Store
	// OnEvent, when set, sees every partial, final and error event of the
	// merged feed as it is recorded.
	OnEvent func(transcriber.Event)
	// Timeout bounds the whole session; zero means no limit.
	Timeout time.Duration
}

type Pipeline interface {
	Run(ctx context.Context)
	Stop()
	Status() Status
	Actions() chan<- Action
	Done() <-chan struct{}
	Result() (session.Result, error)
	Providers() []orchestrator.Status
}

type pipeline struct {
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
	actionCh chan Action
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	status Status
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	result session.Result
	err    error
}

func New(cfg Config) Pipeline {
	m := cfg.Orchestrator.Metrics
	if m == nil {
		m = metrics.Default
		cfg.Orchestrator.Metrics = m
	}
	if cfg.Session != nil {
		cfg.Orchestrator.SessionID = cfg.Session.ID
	}
	if src, ok := cfg.Source.(recording.Paced); ok && src.Lossless() {
		cfg.Orchestrator.Lossless = true
	}
	sessionID := ""
	if cfg.Session != nil {
		sessionID = cfg.Session.ID
	}
	return &pipeline{
		cfg:      cfg,
		log:      logging.WithSession("pipeline", sessionID),
		metrics:  m,
		actionCh: make(chan Action, 1),
		done:     make(chan struct{}),
		status:   Idle,
	}
}

// SourceCadence picks continuous frames when any target streams and
// batched chunks when every target uploads.
func SourceCadence(targets []orchestrator.Target, frame, chunk time.Duration) recording.Cadence {
	for _, t := range targets {
		if !t.Definition.Batched() {
			return recording.Cadence{Mode: recording.ModeContinuous, FrameInterval: frame, ChunkInterval: chunk}
		}
	}
	return recording.Cadence{Mode: recording.ModeBatched, FrameInterval: frame, ChunkInterval: chunk}
}

func (p *pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *pipeline) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

func (p *pipeline) Actions() chan<- Action {
	return p.actionCh
}

func (p *pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *pipeline) Result() (session.Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.result, p.err
}

func (p *pipeline) Providers() []orchestrator.Status {
	p.mu.RLock()
	orch := p.orch
	p.mu.RUnlock()
	if orch == nil {
		return nil
	}
	return orch.Status()
}

// Stop cancels the session and waits until its result is produced.
func (p *pipeline) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *pipeline) Run(ctx context.Context) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if p.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	p.mu.Lock()
	p.cancel = cancel
	p.status = Connecting
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(runCtx)
}

func (p *pipeline) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.status = Idle
	p.mu.Unlock()
	close(p.done)
}

func (p *pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	if p.cfg.Session == nil || len(p.cfg.Targets) == 0 {
		p.fail(ErrNoTargets)
		return
	}
	if p.cfg.Source == nil {
		p.fail(ErrNoSource)
		return
	}

	ctx, span := tracing.Start(ctx, "pipeline.session")
	var runErr error
	defer func() { tracing.End(span, runErr) }()

	p.metrics.SessionsTotal.Inc()
	p.log.Info().Int("providers", len(p.cfg.Targets)).Msg("pipeline: starting session")

	orch := orchestrator.New(p.cfg.Orchestrator, p.cfg.Factory)
	p.mu.Lock()
	p.orch = orch
	p.mu.Unlock()

	rec := session.NewRecorder(p.cfg.Session)
	if p.cfg.Publisher != nil {
		if err := p.cfg.Publisher.Attach(rec); err != nil {
			p.log.Warn().Err(err).Msg("pipeline: event publisher not attached")
		}
	}
	if p.cfg.OnEvent != nil {
		for _, topic := range []string{session.TopicPartial, session.TopicFinal, session.TopicError} {
			if err := rec.Subscribe(topic, p.cfg.OnEvent); err != nil {
				p.log.Warn().Err(err).Str("topic", topic).Msg("pipeline: event observer not attached")
			}
		}
	}
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		rec.Run(orch.Events())
	}()

	failures, err := orch.Start(ctx, p.cfg.Targets)
	if err != nil {
		runErr = err
		_ = orch.Stop(context.Background())
		<-recDone
		p.fail(err)
		return
	}
	for id, ferr := range failures {
		p.log.Warn().Err(ferr).Str("provider", id).Msg("pipeline: provider failed to start")
	}

	frames, errs, err := p.cfg.Source.Start(ctx)
	if err != nil {
		runErr = err
		p.log.Error().Err(err).Msg("pipeline: source error")
		_ = orch.Stop(context.Background())
		<-recDone
		p.fail(err)
		return
	}
	p.setStatus(Streaming)

	p.stream(ctx, orch, frames, errs)

	p.setStatus(Finishing)
	if err := orch.Stop(context.Background()); err != nil {
		p.log.Warn().Err(err).Msg("pipeline: some connections did not stop cleanly")
	}
	<-recDone

	res := rec.Result()
	for _, s := range res.Scores {
		p.metrics.Similarity.WithLabelValues(s.ProviderID).Set(s.Similarity)
	}
	if p.cfg.Store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := p.cfg.Store.Save(saveCtx, res); err != nil {
			runErr = err
			p.log.Error().Err(err).Msg("pipeline: failed to store result")
		}
		cancel()
	}

	p.mu.Lock()
	p.result = res
	p.err = runErr
	p.status = Idle
	p.mu.Unlock()
	close(p.done)
	p.log.Info().Msg("pipeline: session finished")
}

// stream forwards frames until the source closes its frame channel.
func (p *pipeline) stream(ctx context.Context, orch *orchestrator.Orchestrator, frames <-chan audio.Frame, errs <-chan error) {
	var once sync.Once
	stopSource := func() {
		once.Do(func() {
			go func() {
				if err := p.cfg.Source.Stop(); err != nil {
					p.log.Warn().Err(err).Msg("pipeline: error stopping source")
				}
			}()
		})
	}

	ctxDone := ctx.Done()
	frameCount := 0
	for frames != nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			frameCount++
			orch.OnFrame(frame)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				p.log.Error().Err(err).Msg("pipeline: source error")
				stopSource()
			}

		case action := <-p.actionCh:
			p.log.Debug().Str("action", string(action)).Msg("pipeline: received action")
			if action == Finish {
				stopSource()
			}

		case <-ctxDone:
			ctxDone = nil
			stopSource()
		}
	}
	p.log.Debug().Int("frames", frameCount).Msg("pipeline: source drained")
}
