// Package session records the finalized transcripts of one evaluation run
// and turns them into a result document with scores.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/leonardotrapani/sttbench/internal/evaluation"
)

type Session struct {
	ID        string
	StartedAt time.Time
	Language  string
	Providers []string
	Reference *evaluation.Reference
}

func NewID() string {
	return uuid.NewString()
}

func New(language string, providers []string, ref *evaluation.Reference) *Session {
	return &Session{
		ID:        NewID(),
		StartedAt: time.Now().UTC(),
		Language:  language,
		Providers: append([]string(nil), providers...),
		Reference: ref,
	}
}

// Result is the stored and served form of a finished session.
type Result struct {
	Metadata  Metadata                  `json:"metadata"`
	Providers map[string]ProviderResult `json:"providers"`
	Scores    []evaluation.Score        `json:"scores,omitempty"`
}

type Metadata struct {
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	Language   string    `json:"language"`
	SampleRate int       `json:"sample_rate"`
	Reference  string    `json:"reference,omitempty"`
}

type ProviderResult struct {
	FullText    string       `json:"full_text"`
	Transcripts []Transcript `json:"transcripts"`
	Errors      []ErrorEntry `json:"errors,omitempty"`
}

type Transcript struct {
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
	LatencyMs   int64  `json:"latency_ms"`
	IsFinal     bool   `json:"is_final"`
	Speaker     string `json:"speaker,omitempty"`
}

type ErrorEntry struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	TimestampMs int64  `json:"timestamp_ms"`
	Fatal       bool   `json:"fatal,omitempty"`
}
