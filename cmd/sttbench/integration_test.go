//go:build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/events"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

const testTimeout = 90 * time.Second

// TestProvidersTranscribeSample runs the sample clip through every provider
// that has a key, one session per provider. STTBENCH_SAMPLE overrides the
// clip and STTBENCH_SAMPLE_REFERENCE adds scoring.
func TestProvidersTranscribeSample(t *testing.T) {
	sample := os.Getenv("STTBENCH_SAMPLE")
	if sample == "" {
		_, currentFile, _, ok := goruntime.Caller(0)
		if !ok {
			t.Fatal("could not determine current file path")
		}
		sample = filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(currentFile))), "testdata", "sample.wav")
	}
	if _, err := os.Stat(sample); err != nil {
		t.Skipf("no sample audio: %v", err)
	}

	cfg := loadTestConfig(t)
	rt, err := newRuntime(cfg)
	if err != nil {
		t.Fatalf("newRuntime() error = %v", err)
	}
	t.Cleanup(rt.Close)

	for _, def := range provider.List() {
		def := def
		t.Run(def.ID, func(t *testing.T) {
			t.Parallel()
			if def.RequiresAPIKey && cfg.ResolveAPIKey(def.ID) == "" {
				t.Skipf("missing %s", def.APIKeyEnv)
			}

			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			_, p, err := rt.newPipeline(ctx, cfg, sessionOptions{
				Providers: []string{def.ID},
				Reference: os.Getenv("STTBENCH_SAMPLE_REFERENCE"),
				File:      sample,
				Realtime:  def.Transport != provider.TransportUpload,
			})
			if err != nil {
				t.Fatalf("newPipeline() error = %v", err)
			}
			p.Run(ctx)
			<-p.Done()

			res, err := p.Result()
			if err != nil {
				t.Fatalf("session error = %v", err)
			}
			pr := res.Providers[def.ID]
			for _, e := range pr.Errors {
				if e.Fatal {
					t.Fatalf("fatal provider error %s: %s", e.Code, e.Message)
				}
			}
			if strings.TrimSpace(pr.FullText) == "" {
				t.Fatal("empty transcript")
			}
			t.Logf("%s: %s", def.ID, pr.FullText)
			for _, s := range res.Scores {
				t.Logf("similarity %.1f%% grade %s", s.Similarity, s.Grade)
			}
		})
	}
}

func loadTestConfig(t *testing.T) *config.Config {
	if err := config.LoadEnv(); err != nil {
		t.Logf("warning: could not load .env: %v", err)
	}
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		t.Logf("warning: could not load config: %v", err)
		return config.Default()
	}
	cfg.Store.Driver = "memory"
	cfg.Events = events.DefaultConfig()
	return cfg
}
