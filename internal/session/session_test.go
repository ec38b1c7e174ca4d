package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

func final(provider, text string, ts int64) transcriber.Event {
	return transcriber.Event{ProviderID: provider, Text: text, TimestampMs: ts, IsFinal: true, LatencyMs: 120}
}

func TestNewSessionID(t *testing.T) {
	a := New("ja", []string{"p1"}, nil)
	b := New("ja", []string{"p1"}, nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q and %q should be unique", a.ID, b.ID)
	}
	if len(a.ID) != 36 {
		t.Errorf("id %q is not a uuid", a.ID)
	}
}

func TestRecorderKeepsOnlyFinalsInOrder(t *testing.T) {
	r := NewRecorder(New("ja", []string{"deepgram-nova", "openai-whisper"}, nil))

	events := make(chan transcriber.Event, 8)
	events <- transcriber.Event{ProviderID: "deepgram-nova", Text: "こんにち", TimestampMs: 1}
	events <- final("deepgram-nova", "世界", 30)
	events <- final("deepgram-nova", "こんにちは", 20)
	events <- final("openai-whisper", "こんにちは 世界", 25)
	close(events)
	r.Run(events)

	hyp := r.Hypotheses()
	if got := hyp["deepgram-nova"]; got != "こんにちは 世界" {
		t.Errorf("deepgram hypothesis = %q", got)
	}
	if got := hyp["openai-whisper"]; got != "こんにちは 世界" {
		t.Errorf("whisper hypothesis = %q", got)
	}

	res := r.Result()
	dg := res.Providers["deepgram-nova"]
	if len(dg.Transcripts) != 2 || dg.Transcripts[0].TimestampMs != 20 || dg.Transcripts[1].TimestampMs != 30 {
		t.Errorf("transcripts = %+v, want two finals ordered by timestamp", dg.Transcripts)
	}
	for _, tr := range dg.Transcripts {
		if !tr.IsFinal {
			t.Errorf("partial leaked into result: %+v", tr)
		}
	}
	if res.Metadata.EndedAt.IsZero() {
		t.Error("EndedAt not stamped after Run")
	}
}

func TestRecorderScores(t *testing.T) {
	ref := evaluation.PlainReference("こんにちは世界")
	r := NewRecorder(New("ja", []string{"a", "b", "c"}, ref))
	r.Record(final("a", "こんにちは世界", 1))
	r.Record(final("b", "こんにちは", 1))

	scores := r.Scores()
	if len(scores) != 3 {
		t.Fatalf("got %d scores, want 3", len(scores))
	}
	byID := map[string]evaluation.Score{}
	for _, s := range scores {
		byID[s.ProviderID] = s
	}
	if s := byID["a"]; s.CER != 0 || s.Similarity != 100 || s.Grade != "S" {
		t.Errorf("exact match score = %+v", s)
	}
	if s := byID["c"]; s.CER != 1 || s.Grade != "F" {
		t.Errorf("silent provider score = %+v, want cer 1 grade F", s)
	}

	if NewRecorder(New("ja", []string{"a"}, nil)).Scores() != nil {
		t.Error("scores without a reference should be nil")
	}
}

func TestRecorderErrors(t *testing.T) {
	r := NewRecorder(New("ja", nil, nil))
	notice := apperr.Notice{ProviderID: "groq-whisper", Code: apperr.CodeRateLimitExceeded, Message: "slow down"}
	r.Record(transcriber.Event{ProviderID: "groq-whisper", TimestampMs: 9, Error: &notice})

	pr, ok := r.Result().Providers["groq-whisper"]
	if !ok || len(pr.Errors) != 1 || pr.Errors[0].Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("provider result = %+v", pr)
	}
	if len(pr.Transcripts) != 0 || pr.FullText != "" {
		t.Errorf("error-only provider has transcripts: %+v", pr)
	}
}

func TestRecorderPublishesToSubscribers(t *testing.T) {
	r := NewRecorder(New("ja", []string{"p"}, nil))

	var (
		mu       sync.Mutex
		partials []string
		finals   []string
		errs     int
	)
	must := func(err error) {
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}
	must(r.Subscribe(TopicPartial, func(ev transcriber.Event) {
		mu.Lock()
		partials = append(partials, ev.Text)
		mu.Unlock()
	}))
	must(r.Subscribe(TopicFinal, func(ev transcriber.Event) {
		mu.Lock()
		finals = append(finals, ev.Text)
		mu.Unlock()
	}))
	must(r.Subscribe(TopicError, func(transcriber.Event) {
		mu.Lock()
		errs++
		mu.Unlock()
	}))

	notice := apperr.Notice{ProviderID: "p", Code: apperr.CodeNetworkError}
	r.Record(transcriber.Event{ProviderID: "p", Text: "はじ"})
	r.Record(final("p", "はじめ", 1))
	r.Record(final("p", "まして", 2))
	r.Record(transcriber.Event{ProviderID: "p", Error: &notice})
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(partials) != 1 || len(finals) != 2 || errs != 1 {
		t.Fatalf("partials=%v finals=%v errs=%d", partials, finals, errs)
	}
	if finals[0] != "はじめ" || finals[1] != "まして" {
		t.Errorf("finals out of order: %v", finals)
	}
}

func TestResultJSONShape(t *testing.T) {
	r := NewRecorder(New("ja", []string{"p"}, evaluation.PlainReference("テスト")))
	r.Record(final("p", "テスト", 5))
	r.Close()

	data, err := json.Marshal(r.Result())
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		Metadata struct {
			SessionID  string `json:"session_id"`
			SampleRate int    `json:"sample_rate"`
		} `json:"metadata"`
		Providers map[string]struct {
			FullText    string `json:"full_text"`
			Transcripts []struct {
				TimestampMs int64 `json:"timestamp_ms"`
				IsFinal     bool  `json:"is_final"`
			} `json:"transcripts"`
		} `json:"providers"`
		Scores []evaluation.Score `json:"scores"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Metadata.SessionID == "" || parsed.Metadata.SampleRate != 16000 {
		t.Errorf("metadata = %+v", parsed.Metadata)
	}
	if p := parsed.Providers["p"]; p.FullText != "テスト" || len(p.Transcripts) != 1 || !p.Transcripts[0].IsFinal {
		t.Errorf("provider = %+v", p)
	}
	if len(parsed.Scores) != 1 || parsed.Scores[0].Grade != "S" {
		t.Errorf("scores = %+v", parsed.Scores)
	}
}
