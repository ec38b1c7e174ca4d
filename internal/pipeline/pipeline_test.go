package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/orchestrator"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/store"
	"github.com/leonardotrapani/sttbench/internal/testutil"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

func targets(ids ...string) []orchestrator.Target {
	out := make([]orchestrator.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, orchestrator.Target{Definition: provider.MustGet(id)})
	}
	return out
}

func frames(n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = testutil.MockFrame(uint64(i), 100*time.Millisecond)
	}
	return out
}

func testConfig(src recording.Source, factory *testutil.MockFactory, ids ...string) Config {
	sess := session.New("ja", ids, evaluation.PlainReference("こんにちは世界"))
	return Config{
		Session: sess,
		Source:  src,
		Targets: targets(ids...),
		Orchestrator: orchestrator.Config{
			StopTimeout: 2 * time.Second,
			Metrics:     metrics.New(prometheus.NewRegistry()),
		},
		Factory: factory.New,
		Store:   store.NewMemory(),
	}
}

func waitDone(t *testing.T, p Pipeline) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}

func TestSourceCadence(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want recording.Mode
	}{
		{"uploads only", []string{provider.IDOpenAIWhisper}, recording.ModeBatched},
		{"streaming only", []string{provider.IDDeepgramNova}, recording.ModeContinuous},
		{"mixed", []string{provider.IDOpenAIWhisper, provider.IDDeepgramNova}, recording.ModeContinuous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := SourceCadence(targets(tt.ids...), 100*time.Millisecond, 1500*time.Millisecond)
			if c.Mode != tt.want {
				t.Errorf("mode = %v, want %v", c.Mode, tt.want)
			}
		})
	}
}

func TestPipelineRunsSession(t *testing.T) {
	dg := testutil.NewMockConnection(provider.IDDeepgramNova)
	factory := testutil.NewMockFactory(dg)
	src := testutil.NewMockSource(frames(5)...)
	cfg := testConfig(src, factory, provider.IDDeepgramNova)

	p := New(cfg)
	if p.Status() != Idle {
		t.Fatalf("initial status = %s, want idle", p.Status())
	}
	p.Run(context.Background())

	testutil.WaitForCondition(t, func() bool { return len(dg.Frames()) == 5 }, 2*time.Second)
	if p.Status() != Streaming {
		t.Errorf("status = %s, want streaming", p.Status())
	}
	if len(p.Providers()) != 1 {
		t.Errorf("providers = %+v", p.Providers())
	}

	dg.EmitFinal("こんにちは", 100)
	dg.EmitFinal("世界", 200)
	p.Actions() <- Finish
	waitDone(t, p)

	res, err := p.Result()
	if err != nil {
		t.Fatalf("Result error: %v", err)
	}
	if got := res.Providers[provider.IDDeepgramNova].FullText; got != "こんにちは 世界" {
		t.Errorf("full text = %q", got)
	}
	if len(res.Scores) != 1 || res.Scores[0].Grade != "S" {
		t.Errorf("scores = %+v", res.Scores)
	}
	if p.Status() != Idle {
		t.Errorf("final status = %s, want idle", p.Status())
	}

	stored, err := cfg.Store.Get(context.Background(), cfg.Session.ID)
	if err != nil {
		t.Fatalf("stored result missing: %v", err)
	}
	if stored.Metadata.SessionID != cfg.Session.ID {
		t.Errorf("stored id = %q", stored.Metadata.SessionID)
	}
}

func TestPipelineStopFinishesSession(t *testing.T) {
	dg := testutil.NewMockConnection(provider.IDDeepgramNova)
	src := testutil.NewMockSource(frames(2)...)
	p := New(testConfig(src, testutil.NewMockFactory(dg), provider.IDDeepgramNova))
	p.Run(context.Background())

	testutil.WaitForCondition(t, func() bool { return len(dg.Frames()) == 2 }, 2*time.Second)
	p.Stop()

	if _, err := p.Result(); err != nil {
		t.Errorf("Result error: %v", err)
	}
	if src.State() != recording.StateStopped {
		t.Errorf("source state = %v, want stopped", src.State())
	}
	if dg.State().Accepting() {
		t.Errorf("connection still accepting after stop")
	}
}

func TestPipelineStartFailures(t *testing.T) {
	t.Run("no targets", func(t *testing.T) {
		cfg := testConfig(testutil.NewMockSource(), testutil.NewMockFactory())
		cfg.Targets = nil
		p := New(cfg)
		p.Run(context.Background())
		waitDone(t, p)
		if _, err := p.Result(); !errors.Is(err, ErrNoTargets) {
			t.Errorf("err = %v, want ErrNoTargets", err)
		}
	})

	t.Run("source unavailable", func(t *testing.T) {
		src := testutil.NewMockSource()
		src.StartErr = apperr.New(apperr.CodeDeviceUnavailable, "recording.arm", "no capture device")
		dg := testutil.NewMockConnection(provider.IDDeepgramNova)
		p := New(testConfig(src, testutil.NewMockFactory(dg), provider.IDDeepgramNova))
		p.Run(context.Background())
		waitDone(t, p)

		_, err := p.Result()
		if !apperr.IsCode(err, apperr.CodeDeviceUnavailable) {
			t.Errorf("err = %v, want DEVICE_UNAVAILABLE", err)
		}
		if dg.State().Accepting() {
			t.Error("connections must be stopped when the source cannot start")
		}
	})
}

func TestPipelineProviderFailureIsIsolated(t *testing.T) {
	good := testutil.NewMockConnection(provider.IDDeepgramNova)
	bad := testutil.NewMockConnection(provider.IDOpenAIRealtime)
	bad.StartErr = func(int) error {
		return apperr.New(apperr.CodeAPIKeyNotConfigured, "start", "missing key")
	}
	src := testutil.NewMockSource(frames(3)...)
	cfg := testConfig(src, testutil.NewMockFactory(good, bad), provider.IDDeepgramNova, provider.IDOpenAIRealtime)
	cfg.Orchestrator.Retry = orchestrator.RetryPolicy{Enabled: false}

	p := New(cfg)
	p.Run(context.Background())
	testutil.WaitForCondition(t, func() bool { return len(good.Frames()) == 3 }, 2*time.Second)
	good.EmitFinal("こんにちは世界", 10)
	p.Actions() <- Finish
	waitDone(t, p)

	res, _ := p.Result()
	if res.Providers[provider.IDDeepgramNova].FullText != "こんにちは世界" {
		t.Errorf("healthy provider lost its transcript: %+v", res.Providers[provider.IDDeepgramNova])
	}
	errs := res.Providers[provider.IDOpenAIRealtime].Errors
	if len(errs) == 0 || errs[0].Code != string(apperr.CodeAPIKeyNotConfigured) {
		t.Errorf("failed provider errors = %+v", errs)
	}
}

func TestPipelineTimeout(t *testing.T) {
	dg := testutil.NewMockConnection(provider.IDDeepgramNova)
	cfg := testConfig(testutil.NewMockSource(frames(1)...), testutil.NewMockFactory(dg), provider.IDDeepgramNova)
	cfg.Timeout = 100 * time.Millisecond

	p := New(cfg)
	p.Run(context.Background())
	waitDone(t, p)
	if _, err := p.Result(); err != nil {
		t.Errorf("timeout should end the session normally, got %v", err)
	}
}

func TestPipelineOnEventSeesFeed(t *testing.T) {
	dg := testutil.NewMockConnection(provider.IDDeepgramNova)
	factory := testutil.NewMockFactory(dg)
	cfg := testConfig(testutil.NewMockSource(frames(2)...), factory, provider.IDDeepgramNova)

	var mu sync.Mutex
	var seen []string
	cfg.OnEvent = func(ev transcriber.Event) {
		mu.Lock()
		seen = append(seen, ev.Text)
		mu.Unlock()
	}

	p := New(cfg)
	p.Run(context.Background())
	testutil.WaitForCondition(t, func() bool { return len(dg.Frames()) == 2 }, 2*time.Second)

	dg.EmitFinal("こんにちは", 100)
	p.Actions() <- Finish
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "こんにちは" {
		t.Errorf("observer saw %v", seen)
	}
}

// slowUploader answers every chunk with the same short text after delay.
type slowUploader struct {
	delay time.Duration
	calls atomic.Int32
}

func (u *slowUploader) Transcribe(ctx context.Context, wav []byte) (transcriber.UploadResult, error) {
	u.calls.Add(1)
	select {
	case <-time.After(u.delay):
	case <-ctx.Done():
		return transcriber.UploadResult{}, ctx.Err()
	}
	return transcriber.UploadResult{Text: "はい"}, nil
}

func TestPipelineFileSessionDeliversEveryChunk(t *testing.T) {
	const (
		length = 240 * time.Second
		chunk  = 1500 * time.Millisecond
	)
	wav, err := audio.EncodeWAV(audio.Silence(length, audio.CanonicalRate), audio.CanonicalRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	ids := []string{provider.IDOpenAIWhisper}
	src := recording.NewFileSource(recording.FileConfig{
		Cadence: SourceCadence(targets(ids...), 100*time.Millisecond, chunk),
		Reader:  bytes.NewReader(wav),
	})
	up := &slowUploader{delay: 5 * time.Millisecond}

	cfg := testConfig(src, testutil.NewMockFactory(), ids...)
	cfg.Orchestrator.ChunkInterval = chunk
	cfg.Factory = func(def provider.Definition, opts transcriber.Options) transcriber.Connection {
		return transcriber.NewUploadConnection(def.ID, up, audio.CanonicalRate, opts)
	}

	p := New(cfg)
	p.Run(context.Background())
	select {
	case <-p.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	want := int(length / chunk)
	if got := int(up.calls.Load()); got != want {
		t.Fatalf("uploads = %d, want %d (one per chunk)", got, want)
	}
	res, err := p.Result()
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if got := len(res.Providers[provider.IDOpenAIWhisper].Transcripts); got != want {
		t.Errorf("finals = %d, want %d", got, want)
	}
}
