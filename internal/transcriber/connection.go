// Package transcriber drives one logical session per speech-to-text backend.
//
// Every backend sits behind Connection regardless of transport: chunked
// uploads, streaming websockets and webrtc peers share one state machine,
//
//	Disconnected -> Connecting -> Connected -> Streaming -> Closing -> Disconnected
//
// with any transport or protocol failure moving the connection to Failed.
// Transitions are serialized per connection. Retrying a failed connection is
// the caller's decision.
package transcriber

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateClosing
	StateFailed
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "streaming", "closing", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Accepting reports whether Submit sends frames in this state.
func (s State) Accepting() bool {
	return s == StateConnected || s == StateStreaming
}

// Event is one transcript update or error notice from a provider.
// Partial events are display-only; only finals accumulate.
type Event struct {
	ProviderID  string         `json:"providerId"`
	Text        string         `json:"text"`
	TimestampMs int64          `json:"timestampMs"`
	LatencyMs   int64          `json:"latencyMs"`
	IsFinal     bool           `json:"isFinal"`
	Speaker     string         `json:"speakerLabel,omitempty"`
	Error       *apperr.Notice `json:"error,omitempty"`
	// Fatal marks an error that a restart cannot fix.
	Fatal bool `json:"fatal,omitempty"`
}

func (e Event) IsError() bool {
	return e.Error != nil
}

// Connection owns one session to one backend.
type Connection interface {
	ID() string
	// Start performs the handshake. ctx bounds the whole session; the
	// handshake itself is bounded by Options.HandshakeTimeout.
	Start(ctx context.Context) error
	// Submit never blocks. Outside Connected/Streaming it returns NOT_READY,
	// except for a single frame held while Connecting.
	Submit(frame audio.Frame) error
	// Events is closed after Stop completes.
	Events() <-chan Event
	State() State
	Stop(ctx context.Context) error
}

// BlockingSubmitter is implemented by connections that can pace a caller
// instead of dropping its audio.
type BlockingSubmitter interface {
	// SubmitWait admits frame like Submit but waits for room in the send
	// queue. It returns early when the connection fails or ctx ends.
	SubmitWait(ctx context.Context, frame audio.Frame) error
}

// Options tune a connection. Zero values take the defaults below.
type Options struct {
	SessionID  string
	Language   string
	Model      string
	APIKey     string
	Endpoint   *provider.EndpointConfig // overrides the definition endpoint
	EndpointID string                   // runpod serverless endpoint id

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	PeerAPI    *webrtc.API

	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ICETimeout        time.Duration
	FinalizeTimeout   time.Duration
	RequestTimeout    time.Duration
	MaxProtocolErrors int
	QueueSize         int
	EventBuffer       int

	Metrics *metrics.Metrics
	Clock   func() time.Time
}

const (
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultICETimeout        = 5 * time.Second
	DefaultFinalizeTimeout   = 2 * time.Second
	DefaultRequestTimeout    = 60 * time.Second
	DefaultMaxProtocolErrors = 5
)

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.ICETimeout <= 0 {
		o.ICETimeout = DefaultICETimeout
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxProtocolErrors <= 0 {
		o.MaxProtocolErrors = DefaultMaxProtocolErrors
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// base is the state machine shared by every transport.
type base struct {
	id        string
	opts      Options
	log       zerolog.Logger
	configErr error

	mu             sync.Mutex
	state          State
	pending        *audio.Frame
	stopped        bool
	cancel         context.CancelFunc
	runDone        <-chan struct{}
	protocolErrors int

	out       chan audio.Frame
	events    chan Event
	halt      chan struct{}
	haltOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	emitMu    sync.Mutex
	lastFinal string
	lastTs    int64

	// end-of-audio bookkeeping
	finalCh       chan struct{}
	awaitingFinal atomic.Bool
	lastAudioNano atomic.Int64
}

func newBase(id string, opts Options) *base {
	opts = opts.withDefaults()
	return &base{
		id:      id,
		opts:    opts,
		log:     logging.WithProvider(opts.SessionID, id),
		state:   StateDisconnected,
		out:     make(chan audio.Frame, opts.QueueSize),
		events:  make(chan Event, opts.EventBuffer),
		halt:    make(chan struct{}),
		finalCh: make(chan struct{}, 1),
	}
}

func (b *base) ID() string {
	return b.id
}

func (b *base) Events() <-chan Event {
	return b.events
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setStateLocked records a transition. mu must be held.
func (b *base) setStateLocked(to State) {
	if b.state == to {
		return
	}
	b.log.Debug().Stringer("from", b.state).Stringer("to", to).Msg("transcriber: state change")
	b.state = to
	if b.opts.Metrics != nil {
		b.opts.Metrics.ConnectionStates.WithLabelValues(b.id, to.String()).Inc()
	}
}

// beginStart moves Disconnected or Failed to Connecting and returns the run
// context. On success the caller holds one wg slot and must release it.
func (b *base) beginStart(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, apperr.New(apperr.CodeNotReady, "start", "connection stopped").ForProvider(b.id)
	}
	if b.state != StateDisconnected && b.state != StateFailed {
		return nil, apperr.New(apperr.CodeNotReady, "start", "connection already "+b.state.String()).ForProvider(b.id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.runDone = runCtx.Done()
	b.pending = nil
	b.protocolErrors = 0
	b.awaitingFinal.Store(false)
	for len(b.out) > 0 {
		<-b.out
	}
	b.setStateLocked(StateConnecting)
	b.wg.Add(1)
	return runCtx, nil
}

// finishStart moves Connecting to Connected and hands back the frame held
// during the handshake. It fails when Stop won the race.
func (b *base) finishStart() (*audio.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnecting {
		return nil, errHandshakeAborted
	}
	b.setStateLocked(StateConnected)
	p := b.pending
	b.pending = nil
	return p, nil
}

// admit applies the submission rules and reports whether frame goes out now.
func (b *base) admit(frame audio.Frame) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateConnected:
		b.setStateLocked(StateStreaming)
		return true, nil
	case StateStreaming:
		return true, nil
	case StateConnecting:
		if b.pending == nil {
			f := frame.Clone()
			b.pending = &f
			return false, nil
		}
	}
	return false, notReady(b.id, b.state)
}

// enqueue hands an admitted frame to the variant's writer without blocking.
func (b *base) enqueue(frame audio.Frame) error {
	select {
	case b.out <- frame:
		return nil
	default:
		if b.opts.Metrics != nil {
			b.opts.Metrics.FramesDropped.WithLabelValues(b.id, "send_queue_full").Inc()
		}
		return apperr.New(apperr.CodeNotReady, "submit", "send queue full").ForProvider(b.id)
	}
}

func (b *base) submit(frame audio.Frame) error {
	now, err := b.admit(frame)
	if err != nil || !now {
		return err
	}
	return b.enqueue(frame)
}

func (b *base) SubmitWait(ctx context.Context, frame audio.Frame) error {
	now, err := b.admit(frame)
	if err != nil || !now {
		return err
	}
	b.mu.Lock()
	runDone := b.runDone
	b.mu.Unlock()

	select {
	case b.out <- frame:
		return nil
	case <-runDone:
		return notReady(b.id, b.State())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail moves the connection to Failed and emits err once. Errors raised while
// closing are expected and dropped.
func (b *base) fail(err error) {
	b.mu.Lock()
	if b.state == StateClosing || b.stopped || b.state == StateFailed {
		b.mu.Unlock()
		b.log.Debug().Err(err).Msg("transcriber: error after close ignored")
		return
	}
	b.setStateLocked(StateFailed)
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.log.Error().Err(err).Bool("fatal", IsFatal(err)).Msg("transcriber: connection failed")
	b.emitError(err)
}

func (b *base) emitError(err error) {
	notice := apperr.NoticeOf(b.id, err)
	if b.opts.Metrics != nil {
		b.opts.Metrics.ProviderErrors.WithLabelValues(b.id, string(notice.Code)).Inc()
	}
	b.emit(Event{
		TimestampMs: b.opts.Clock().UnixMilli(),
		Error:       &notice,
		Fatal:       IsFatal(err),
	})
}

// endTurn closes the current turn. A repeat of the last final after this
// point is a new utterance, not a duplicate delivery.
func (b *base) endTurn() {
	b.emitMu.Lock()
	b.lastFinal = ""
	b.emitMu.Unlock()
}

// emitTranscript applies duplicate suppression and timestamp ordering, then
// publishes the event.
func (b *base) emitTranscript(text, speaker string, final bool, latency time.Duration) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	b.emitMu.Lock()
	ts := b.opts.Clock().UnixMilli()
	if final {
		if text == b.lastFinal {
			b.emitMu.Unlock()
			b.log.Debug().Str("text", text).Msg("transcriber: duplicate final suppressed")
			return
		}
		b.lastFinal = text
		if ts <= b.lastTs {
			ts = b.lastTs + 1
		}
		b.lastTs = ts
	} else if text != b.lastFinal {
		// a new turn has begun
		b.lastFinal = ""
	}
	b.emitMu.Unlock()

	if latency < 0 {
		latency = 0
	}
	b.opts.Metrics.RecordTranscript(b.id, final, latency)
	if final {
		b.log.Info().Str("text", text).Dur("latency", latency).Msg("transcriber: final")
	}
	b.emit(Event{
		Text:        text,
		TimestampMs: ts,
		LatencyMs:   latency.Milliseconds(),
		IsFinal:     final,
		Speaker:     speaker,
	})
}

func (b *base) emit(ev Event) {
	ev.ProviderID = b.id
	select {
	case b.events <- ev:
	case <-b.halt:
	}
}

// protocolError records a malformed message. Past the threshold of
// consecutive errors the connection fails.
func (b *base) protocolError(err error) {
	b.mu.Lock()
	b.protocolErrors++
	n := b.protocolErrors
	b.mu.Unlock()

	b.log.Warn().Err(err).Int("consecutive", n).Msg("transcriber: dropped malformed message")
	if n > b.opts.MaxProtocolErrors {
		b.fail(apperr.Wrap(apperr.CodeTranscriptionFailed, "read", "too many malformed messages", err).ForProvider(b.id))
	}
}

func (b *base) protocolOK() {
	b.mu.Lock()
	b.protocolErrors = 0
	b.mu.Unlock()
}

func (b *base) markAudioSent() {
	b.lastAudioNano.Store(b.opts.Clock().UnixNano())
	b.awaitingFinal.Store(true)
}

// sinceAudio is the latency of a final relative to the newest audio sent.
func (b *base) sinceAudio() time.Duration {
	last := b.lastAudioNano.Load()
	if last == 0 {
		return 0
	}
	return b.opts.Clock().Sub(time.Unix(0, last))
}

func (b *base) signalFinal() {
	b.awaitingFinal.Store(false)
	select {
	case b.finalCh <- struct{}{}:
	default:
	}
}

// waitFinal blocks until a final arrives, done closes, or the finalize
// timeout passes.
func (b *base) waitFinal(ctx context.Context, done <-chan struct{}) {
	timer := time.NewTimer(b.opts.FinalizeTimeout)
	defer timer.Stop()
	select {
	case <-b.finalCh:
	case <-done:
	case <-timer.C:
		b.log.Debug().Msg("transcriber: finalize timed out")
	case <-ctx.Done():
	}
}

func (b *base) drainFinal() {
	select {
	case <-b.finalCh:
	default:
	}
}

// teardown hooks a variant passes to stop.
type teardown struct {
	drain func(ctx context.Context) // runs while Connected/Streaming, before cancel
	close func()                    // releases the transport
	flush func()                    // runs after every goroutine exited
}

// stop is the shared, idempotent teardown. It gives up waiting when ctx
// expires and leaves the remaining goroutines to exit on their own.
func (b *base) stop(ctx context.Context, td teardown) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	prev := b.state
	if prev != StateFailed && prev != StateDisconnected {
		b.setStateLocked(StateClosing)
	}
	cancel := b.cancel
	b.pending = nil
	b.mu.Unlock()

	if prev.Accepting() && td.drain != nil {
		td.drain(ctx)
	}
	if cancel != nil {
		cancel()
	}
	if td.close != nil {
		td.close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.haltOnce.Do(func() { close(b.halt) })
		go func() {
			<-done
			b.closeEvents()
		}()
		b.log.Warn().Stringer("state", prev).Msg("transcriber: stop timed out, abandoning connection")
		return apperr.Wrap(apperr.CodeServerUnavailable, "stop", "connection did not close in time", ctx.Err()).ForProvider(b.id)
	}

	if td.flush != nil {
		td.flush()
	}
	b.mu.Lock()
	if b.state == StateClosing {
		b.setStateLocked(StateDisconnected)
	}
	b.mu.Unlock()
	b.closeEvents()
	b.log.Debug().Msg("transcriber: closed")
	return nil
}

func (b *base) closeEvents() {
	b.closeOnce.Do(func() { close(b.events) })
}

// checkConfig fails the start when the factory recorded a configuration error.
func (b *base) checkConfig() error {
	if b.configErr == nil {
		return nil
	}
	b.fail(b.configErr)
	return b.configErr
}
