package transcriber

import (
	"context"

	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/tracing"
)

// Uploader transcribes one WAV chunk per call.
type Uploader interface {
	Transcribe(ctx context.Context, wav []byte) (UploadResult, error)
}

type UploadResult struct {
	Text    string
	Speaker string
}

// UploadConnection submits every chunk as an independent request. Requests
// run one at a time so finals keep submission order; each result is final
// and its latency is the request round trip.
type UploadConnection struct {
	*base
	uploader   Uploader
	sampleRate int
	finishReq  chan chan struct{}
	workerDone chan struct{}
}

func NewUploadConnection(id string, uploader Uploader, sampleRate int, opts Options) *UploadConnection {
	if sampleRate <= 0 {
		sampleRate = audio.CanonicalRate
	}
	return &UploadConnection{
		base:       newBase(id, opts),
		uploader:   uploader,
		sampleRate: sampleRate,
		finishReq:  make(chan chan struct{}),
	}
}

func (c *UploadConnection) Start(ctx context.Context) error {
	runCtx, err := c.beginStart(ctx)
	if err != nil {
		return err
	}
	defer c.wg.Done()

	if err := c.checkConfig(); err != nil {
		return err
	}
	// a failed run's worker exits once its context is cancelled
	if c.workerDone != nil {
		<-c.workerDone
	}

	pending, err := c.finishStart()
	if err != nil {
		return err
	}
	c.workerDone = make(chan struct{})
	c.wg.Add(1)
	go c.worker(runCtx, c.workerDone)

	c.log.Info().Msg("transcriber: upload connection ready")
	if pending != nil {
		_ = c.submit(*pending)
	}
	return nil
}

func (c *UploadConnection) Submit(frame audio.Frame) error {
	return c.submit(frame)
}

func (c *UploadConnection) Stop(ctx context.Context) error {
	return c.stop(ctx, teardown{drain: c.drain})
}

// drain lets the worker finish the queued chunks before the run is cancelled.
func (c *UploadConnection) drain(ctx context.Context) {
	done := make(chan struct{})
	select {
	case c.finishReq <- done:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (c *UploadConnection) worker(ctx context.Context, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			c.upload(ctx, frame)
		case fin := <-c.finishReq:
			c.flushQueue(ctx)
			close(fin)
			return
		}
	}
}

func (c *UploadConnection) flushQueue(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case frame := <-c.out:
			c.upload(ctx, frame)
		default:
			return
		}
	}
}

// upload sends one chunk. A failed request fails the connection, which
// cancels ctx and ends the worker.
func (c *UploadConnection) upload(ctx context.Context, frame audio.Frame) {
	if len(frame.PCM) == 0 {
		return
	}
	pcm := frame.PCM
	if frame.SampleRate != c.sampleRate {
		pcm = audio.ResamplePCM(pcm, frame.SampleRate, c.sampleRate)
	}
	wav, err := audio.EncodeWAV(pcm, c.sampleRate, 1)
	if err != nil {
		c.log.Warn().Err(err).Msg("transcriber: skipped chunk that could not be encoded")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	reqCtx, span := tracing.Start(reqCtx, "transcriber.upload", tracing.Provider(c.id))

	start := c.opts.Clock()
	res, err := c.uploader.Transcribe(reqCtx, wav)
	rtt := c.opts.Clock().Sub(start)
	tracing.End(span, err)

	if err != nil {
		if ctx.Err() == nil {
			c.fail(err)
		}
		return
	}

	c.log.Debug().Int("bytes", len(wav)).Dur("rtt", rtt).Msg("transcriber: chunk transcribed")
	c.protocolOK()
	// every request is its own turn
	c.emitTranscript(res.Text, res.Speaker, true, rtt)
	c.endTurn()
}

var (
	_ Connection        = (*UploadConnection)(nil)
	_ BlockingSubmitter = (*UploadConnection)(nil)
)
