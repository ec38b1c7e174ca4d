package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

func init() {
	SetColor(false)
}

func TestScoreTableRanksBestFirst(t *testing.T) {
	scores := evaluation.Evaluate("こんにちは世界", map[string]string{
		"a-bad":  "さようなら",
		"b-good": "こんにちは世界",
	})
	out := ScoreTable(scores)

	good := strings.Index(out, "b-good")
	bad := strings.Index(out, "a-bad")
	if good < 0 || bad < 0 {
		t.Fatalf("table missing providers:\n%s", out)
	}
	if good > bad {
		t.Errorf("best provider should be listed first:\n%s", out)
	}
	for _, want := range []string{"PROVIDER", "SIMILARITY", "100.0%", "S"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("ascii profile must not emit escape codes")
	}
}

func TestReport(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	res := session.Result{
		Metadata: session.Metadata{SessionID: "s1", Language: "ja", StartedAt: start, EndedAt: start.Add(3 * time.Second)},
		Providers: map[string]session.ProviderResult{
			"deepgram-nova": {FullText: "こんにちは 世界"},
			"openai-whisper": {Errors: []session.ErrorEntry{
				{Code: string(apperr.CodeAPIKeyNotConfigured), Message: "OPENAI_API_KEY is not set", Fatal: true},
			}},
		},
		Scores: []evaluation.Score{{ProviderID: "deepgram-nova", Similarity: 100, Grade: "S"}},
	}

	out := Report(res)
	for _, want := range []string{"Session s1", "3s", "こんにちは 世界", "(no transcript)", "API_KEY_NOT_CONFIGURED: OPENAI_API_KEY is not set", "GRADE"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "deepgram-nova") > strings.Index(out, "openai-whisper") {
		t.Error("providers should be listed in id order")
	}
}

func TestFormatEvent(t *testing.T) {
	notice := apperr.Notice{ProviderID: "p", Code: apperr.CodeNetworkError, Message: "connection reset"}
	tests := []struct {
		name string
		ev   transcriber.Event
		want string
	}{
		{"partial", transcriber.Event{ProviderID: "p", Text: "こん"}, "[p] こん…"},
		{"final", transcriber.Event{ProviderID: "p", Text: "こんにちは", IsFinal: true, LatencyMs: 120}, "[p] こんにちは 120ms"},
		{"speaker", transcriber.Event{ProviderID: "p", Text: "hi", IsFinal: true, Speaker: "speaker_0"}, "[p] (speaker_0) hi"},
		{"error", transcriber.Event{ProviderID: "p", Error: &notice}, "[p] NETWORK_ERROR: connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatEvent(tt.ev); got != tt.want {
				t.Errorf("FormatEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasUserChanges(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		want   bool
	}{
		{"defaults", func(*config.Config) {}, false},
		{"api key", func(c *config.Config) {
			c.Providers = map[string]config.ProviderConfig{provider.IDDeepgramNova: {APIKey: "k"}}
		}, true},
		{"language", func(c *config.Config) { c.Session.Language = "en" }, true},
		{"providers", func(c *config.Config) { c.Session.Providers = []string{provider.IDDeepgramNova} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			if got := hasUserChanges(cfg); got != tt.want {
				t.Errorf("hasUserChanges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidProvidersKeepsRegistryOrder(t *testing.T) {
	got := validProviders([]string{provider.IDElevenLabsRealtime, "bogus", provider.IDOpenAIWhisper})
	if len(got) != 2 {
		t.Fatalf("validProviders() = %v", got)
	}
	ids := provider.IDs()
	pos := func(id string) int {
		for i, v := range ids {
			if v == id {
				return i
			}
		}
		return -1
	}
	if pos(got[0]) > pos(got[1]) {
		t.Errorf("validProviders() = %v, not in registry order", got)
	}
}

func TestProviderOptionsCoverRegistry(t *testing.T) {
	options := providerOptions()
	if len(options) != len(provider.List()) {
		t.Fatalf("got %d options, want %d", len(options), len(provider.List()))
	}
	for _, opt := range options {
		def := provider.MustGet(opt.Value)
		if !strings.Contains(opt.Key, def.Name) {
			t.Errorf("option %q does not name %s", opt.Key, def.Name)
		}
		if !def.RequiresAPIKey && !strings.Contains(opt.Key, "(no key)") {
			t.Errorf("keyless provider %s should be marked: %q", def.ID, opt.Key)
		}
	}
}

func TestDurationOptionsAddsCurrent(t *testing.T) {
	opts := durationOptions(chunkIntervals, 3*time.Second, 1500*time.Millisecond)
	if len(opts) != len(chunkIntervals)+1 {
		t.Fatalf("got %d options", len(opts))
	}
	last := opts[len(opts)-1]
	if last.Value != 3*time.Second || !strings.Contains(last.Key, "current") {
		t.Errorf("last option = %+v", last)
	}

	opts = durationOptions(chunkIntervals, 1500*time.Millisecond, 1500*time.Millisecond)
	if len(opts) != len(chunkIntervals) {
		t.Errorf("known value must not be duplicated, got %d options", len(opts))
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := maskAPIKey("short"); got != "***" {
		t.Errorf("maskAPIKey(short) = %q", got)
	}
	if got := maskAPIKey("sk-1234567890abcdef"); got != "sk-1234...cdef" {
		t.Errorf("maskAPIKey() = %q", got)
	}
}

func TestSummaryLinesFlagMissingKeys(t *testing.T) {
	for _, def := range provider.List() {
		if def.APIKeyEnv != "" {
			t.Setenv(def.APIKeyEnv, "")
		}
	}
	cfg := config.Default()
	out := strings.Join(summaryLines(cfg), "\n")
	if !strings.Contains(out, "Missing keys:") {
		t.Errorf("summary should list missing keys:\n%s", out)
	}

	cfg.Session.Providers = []string{provider.IDFasterWhisperLocal}
	out = strings.Join(summaryLines(cfg), "\n")
	if strings.Contains(out, "Missing keys:") {
		t.Errorf("keyless providers need no key:\n%s", out)
	}
}
