package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

// Bus topics. Handlers take a single transcriber.Event.
const (
	TopicPartial = "transcript:partial"
	TopicFinal   = "transcript:final"
	TopicError   = "transcript:error"
)

// Recorder consumes the merged event feed of a session. Finals accumulate
// per provider in timestamp order; every event is republished on the bus
// for sinks.
type Recorder struct {
	session *Session
	bus     evbus.Bus
	log     zerolog.Logger

	mu     sync.Mutex
	finals map[string][]transcriber.Event
	errs   map[string][]ErrorEntry
	ended  time.Time
}

func NewRecorder(s *Session) *Recorder {
	r := &Recorder{
		session: s,
		bus:     evbus.New(),
		log:     logging.WithSession("session", s.ID),
		finals:  make(map[string][]transcriber.Event),
		errs:    make(map[string][]ErrorEntry),
	}
	for _, id := range s.Providers {
		r.finals[id] = nil
	}
	return r
}

func (r *Recorder) Session() *Session {
	return r.session
}

// Subscribe attaches fn(transcriber.Event) to topic. Handlers run on their
// own goroutine, one event at a time and in publish order.
func (r *Recorder) Subscribe(topic string, fn func(transcriber.Event)) error {
	return r.bus.SubscribeAsync(topic, fn, true)
}

// Run records events until the feed closes, then waits for every sink.
func (r *Recorder) Run(events <-chan transcriber.Event) {
	for ev := range events {
		r.Record(ev)
	}
	r.Close()
}

func (r *Recorder) Record(ev transcriber.Event) {
	switch {
	case ev.IsError():
		r.mu.Lock()
		r.errs[ev.ProviderID] = append(r.errs[ev.ProviderID], ErrorEntry{
			Code:        string(ev.Error.Code),
			Message:     ev.Error.Message,
			TimestampMs: ev.TimestampMs,
			Fatal:       ev.Fatal,
		})
		r.mu.Unlock()
		r.bus.Publish(TopicError, ev)
	case ev.IsFinal:
		r.mu.Lock()
		list := r.finals[ev.ProviderID]
		i := sort.Search(len(list), func(i int) bool { return list[i].TimestampMs > ev.TimestampMs })
		list = append(list, transcriber.Event{})
		copy(list[i+1:], list[i:])
		list[i] = ev
		r.finals[ev.ProviderID] = list
		r.mu.Unlock()
		r.bus.Publish(TopicFinal, ev)
	default:
		r.bus.Publish(TopicPartial, ev)
	}
}

// Close waits for async handlers to drain and stamps the end time.
func (r *Recorder) Close() {
	r.bus.WaitAsync()
	r.mu.Lock()
	if r.ended.IsZero() {
		r.ended = time.Now().UTC()
	}
	r.mu.Unlock()
}

// Hypotheses returns the space-joined finals of every provider.
func (r *Recorder) Hypotheses() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.finals))
	for id, list := range r.finals {
		out[id] = joinFinals(list)
	}
	return out
}

// Scores recomputes every provider's score against the reference. It
// returns nil when the session has no reference.
func (r *Recorder) Scores() []evaluation.Score {
	ref := r.session.Reference.Text()
	if ref == "" {
		return nil
	}
	return evaluation.Evaluate(ref, r.Hypotheses())
}

func (r *Recorder) Result() Result {
	scores := r.Scores()

	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{
		Metadata: Metadata{
			SessionID:  r.session.ID,
			StartedAt:  r.session.StartedAt,
			EndedAt:    r.ended,
			Language:   r.session.Language,
			SampleRate: audio.CanonicalRate,
			Reference:  r.session.Reference.Text(),
		},
		Providers: make(map[string]ProviderResult, len(r.finals)),
		Scores:    scores,
	}
	for id, list := range r.finals {
		pr := ProviderResult{
			FullText:    joinFinals(list),
			Transcripts: make([]Transcript, 0, len(list)),
			Errors:      append([]ErrorEntry(nil), r.errs[id]...),
		}
		for _, ev := range list {
			pr.Transcripts = append(pr.Transcripts, Transcript{
				Text:        ev.Text,
				TimestampMs: ev.TimestampMs,
				LatencyMs:   ev.LatencyMs,
				IsFinal:     true,
				Speaker:     ev.Speaker,
			})
		}
		res.Providers[id] = pr
	}
	for id, errs := range r.errs {
		if _, ok := res.Providers[id]; !ok {
			res.Providers[id] = ProviderResult{Transcripts: []Transcript{}, Errors: append([]ErrorEntry(nil), errs...)}
		}
	}
	return res
}

func joinFinals(list []transcriber.Event) string {
	parts := make([]string, 0, len(list))
	for _, ev := range list {
		if t := strings.TrimSpace(ev.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
