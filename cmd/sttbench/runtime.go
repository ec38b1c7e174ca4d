package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/events"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/pipeline"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/store"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

const closeTimeout = 5 * time.Second

// runtime holds the long-lived collaborators shared by every session of
// one process.
type runtime struct {
	store     store.Store
	limiter   *ratelimit.Limiter
	publisher *events.Publisher
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	st, err := store.New(cfg.ToStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	limiter, err := cfg.NewLimiter()
	if err != nil {
		st.Close(context.Background())
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	limiter.SetMetrics(metrics.Default)

	sinks, err := events.New(cfg.Events)
	if err != nil {
		st.Close(context.Background())
		return nil, fmt.Errorf("failed to create event sinks: %w", err)
	}
	return &runtime{
		store:     st,
		limiter:   limiter,
		publisher: events.NewPublisher(sinks, cfg.Events.Partials, metrics.Default),
	}, nil
}

func (r *runtime) Close() {
	log := logging.WithComponent("runtime")
	if err := r.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("runtime: failed to close event sinks")
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := r.store.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("runtime: failed to close store")
	}
}

// sessionOptions describes one CLI or daemon session.
type sessionOptions struct {
	Providers []string
	Language  string
	Reference string
	File      string
	Realtime  bool
	Timeout   time.Duration
	OnEvent   func(transcriber.Event)
}

// newPipeline prepares a session over the microphone, or over File when set.
func (r *runtime) newPipeline(ctx context.Context, cfg *config.Config, opts sessionOptions) (*session.Session, pipeline.Pipeline, error) {
	ids, err := resolveProviders(cfg, opts.Providers)
	if err != nil {
		return nil, nil, err
	}
	lang := opts.Language
	if lang == "" {
		lang = cfg.Session.Language
	}

	refPath := opts.Reference
	if refPath == "" {
		refPath = cfg.Evaluation.Reference
	}
	var ref *evaluation.Reference
	if refPath != "" {
		ref, err = evaluation.LoadReference(refPath)
		if err != nil {
			return nil, nil, err
		}
	}

	sess := session.New(lang, ids, ref)
	targets, err := cfg.Targets(sess.ID, lang, ids)
	if err != nil {
		return nil, nil, err
	}
	cadence := pipeline.SourceCadence(targets, cfg.Audio.FrameInterval, cfg.Audio.ChunkInterval)

	var src recording.Source
	if opts.File != "" {
		fs := recording.NewFileSource(recording.FileConfig{
			Cadence:           cadence,
			Path:              opts.File,
			Realtime:          opts.Realtime,
			ChannelBufferSize: cfg.Audio.ChannelBufferSize,
		})
		if err := fs.Arm(ctx); err != nil {
			return nil, nil, err
		}
		src = fs
	} else {
		rc := cfg.ToRecordingConfig()
		rc.Cadence = cadence
		ds := recording.NewDeviceSource(rc)
		if err := ds.Arm(ctx); err != nil {
			return nil, nil, err
		}
		src = ds
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = cfg.SessionTimeout()
	}
	p := pipeline.New(pipeline.Config{
		Session:      sess,
		Source:       src,
		Targets:      targets,
		Orchestrator: cfg.ToOrchestratorConfig(sess.ID),
		Factory:      transcriber.New,
		Publisher:    r.publisher,
		Store:        r.store,
		OnEvent:      opts.OnEvent,
		Timeout:      timeout,
	})
	return sess, p, nil
}

// resolveProviders expands "all" to every provider that can run with the
// current keys and falls back to the configured list when ids is empty.
func resolveProviders(cfg *config.Config, ids []string) ([]string, error) {
	if len(ids) == 1 && ids[0] == "all" {
		var ready []string
		for _, def := range provider.List() {
			if !def.RequiresAPIKey || cfg.ResolveAPIKey(def.ID) != "" {
				ready = append(ready, def.ID)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("no provider has an API key configured")
		}
		return ready, nil
	}
	if len(ids) == 0 {
		ids = cfg.Session.Providers
	}
	for _, id := range ids {
		if _, ok := provider.Get(id); !ok {
			return nil, fmt.Errorf("unknown provider %q (known: %s)", id, strings.Join(provider.IDs(), ", "))
		}
	}
	return ids, nil
}
