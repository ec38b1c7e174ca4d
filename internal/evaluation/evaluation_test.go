package evaluation

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"おはようございます", "おはよう", 5},
		{"こんにちは世界", "こんにちは世界", 0},
	}
	for _, tt := range tests {
		if got := Distance([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"flaw", "lawn"},
		{"音声認識", "音声に気"},
		{"abc", "cab"},
	}
	for _, p := range pairs {
		a, b := []rune(p[0]), []rune(p[1])
		if Distance(a, b) != Distance(b, a) {
			t.Errorf("Distance not symmetric for %q / %q", p[0], p[1])
		}
	}
}

func TestScoreScenarios(t *testing.T) {
	tests := []struct {
		name       string
		ref, hyp   string
		cer        float64
		similarity float64
		grade      string
	}{
		{"truncated greeting", "おはようございます", "おはよう", 5.0 / 9.0, 44.444, "F"},
		{"exact match", "こんにちは世界", "こんにちは世界", 0, 100, "S"},
		{"punctuation ignored", "こんにちは、世界。", "こんにちは世界", 0, 100, "S"},
		{"empty both", "", "", 0, 100, "S"},
		{"empty reference", "", "何か", 1, 0, "F"},
		{"empty hypothesis", "テスト", "", 1, 0, "F"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScoreOne("p", tt.ref, tt.hyp)
			if !approx(s.CER, tt.cer) {
				t.Errorf("CER = %f, want %f", s.CER, tt.cer)
			}
			if !approx(s.Similarity, tt.similarity) {
				t.Errorf("Similarity = %f, want %f", s.Similarity, tt.similarity)
			}
			if s.Grade != tt.grade {
				t.Errorf("Grade = %s, want %s", s.Grade, tt.grade)
			}
		})
	}
}

func TestSimilarityFloorsAtZero(t *testing.T) {
	// hypothesis much longer than reference pushes CER above 1
	if got := Similarity("あ", "いいいいい"); got != 0 {
		t.Fatalf("Similarity = %f, want 0", got)
	}
	if cer := CER("あ", "いいいいい"); cer <= 1 {
		t.Fatalf("CER = %f, want > 1", cer)
	}
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		sim  float64
		want string
	}{
		{100, "S"},
		{95, "S"},
		{94.99, "A"},
		{90, "A"},
		{89.9, "B"},
		{80, "B"},
		{70, "C"},
		{69.99, "D"},
		{60, "D"},
		{59.99, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		if got := Grade(tt.sim); got != tt.want {
			t.Errorf("Grade(%v) = %s, want %s", tt.sim, got, tt.want)
		}
	}
}

func TestWER(t *testing.T) {
	if got := WER("the quick brown fox", "the quick brown fox"); got != 0 {
		t.Fatalf("WER identical = %f", got)
	}
	if got := WER("the quick brown fox", "the slow brown fox"); !approx(got, 0.25) {
		t.Fatalf("WER one substitution = %f, want 0.25", got)
	}
	if got := WER("Hello, World!", "hello world"); got != 0 {
		t.Fatalf("WER should ignore case and punctuation, got %f", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ＨＥＬＬＯ　ｗｏｒｌｄ", "hello world"},
		{"Speaker 1: good morning", "good morning"},
		{"[SPEAKER_00] こんにちは", "こんにちは"},
		{"話者A：おはよう", "おはよう"},
		{"  lots   of\tspace\n", "lots of space"},
		{"「引用」です。", "引用です"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEvaluateOrdersByProvider(t *testing.T) {
	scores := Evaluate("こんにちは世界", map[string]string{
		"zeta":  "こんにちは",
		"alpha": "こんにちは世界",
		"mid":   "",
	})
	if len(scores) != 3 {
		t.Fatalf("got %d scores", len(scores))
	}
	if scores[0].ProviderID != "alpha" || scores[1].ProviderID != "mid" || scores[2].ProviderID != "zeta" {
		t.Fatalf("unexpected order: %+v", scores)
	}

	ranked := Rank(scores)
	if ranked[0].ProviderID != "alpha" || ranked[2].ProviderID != "mid" {
		t.Fatalf("unexpected rank: %+v", ranked)
	}
	// Rank copies
	if scores[1].ProviderID != "mid" {
		t.Fatal("Rank mutated its input")
	}
}

func TestParseReference(t *testing.T) {
	yamlDoc := `
title: meeting
entries:
  - speaker: A
    text: おはようございます
    start_sec: 0
    end_sec: 1.5
  - speaker: B
    text: こんにちは
    start_sec: 1.5
    end_sec: 3
`
	ref, err := ParseReference([]byte(yamlDoc), "yaml")
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if ref.Title != "meeting" || len(ref.Entries) != 2 {
		t.Fatalf("unexpected yaml reference: %+v", ref)
	}
	if ref.Text() != "おはようございます こんにちは" {
		t.Fatalf("Text() = %q", ref.Text())
	}

	jsonList := `[{"speaker":"A","text":"one","startSec":0,"endSec":1}]`
	ref, err = ParseReference([]byte(jsonList), "json")
	if err != nil || len(ref.Entries) != 1 || ref.Entries[0].Text != "one" {
		t.Fatalf("json list: %+v %v", ref, err)
	}

	bad := `[{"text":"x","startSec":5,"endSec":1}]`
	if _, err := ParseReference([]byte(bad), "json"); err == nil {
		t.Fatal("expected error for inverted timestamps")
	}

	ref, err = ParseReference([]byte("  plain text  \n"), "txt")
	if err != nil || ref.Text() != "plain text" {
		t.Fatalf("plain: %+v %v", ref, err)
	}
}

func TestLoadReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.yml")
	if err := os.WriteFile(path, []byte("- text: hi\n  start_sec: 0\n  end_sec: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := LoadReference(path)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}
	if ref.Text() != "hi" {
		t.Fatalf("Text() = %q", ref.Text())
	}

	if _, err := LoadReference(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		sec  float64
		want string
	}{
		{0, "00:00.00"},
		{5.5, "00:05.50"},
		{65.25, "01:05.25"},
		{-3, "00:00.00"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.sec); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}
