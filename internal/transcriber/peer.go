package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/zaf/g711"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/tracing"
)

const (
	peerEventsChannel = "oai-events"
	peerSampleRate    = 8000
	peerInboxSize     = 64
)

// NewPeerAPI builds a webrtc API with the default codecs. Loopback
// candidates are only useful when both peers share a host.
func NewPeerAPI(includeLoopback bool) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(includeLoopback)
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// peerSignal is one callback from the peer connection, forwarded to the
// session goroutine.
type peerSignal struct {
	data  []byte
	state webrtc.PeerConnectionState
}

// PeerConnection sends audio as a PCMU track and receives realtime events
// over a data channel. The offer is exchanged with one HTTP request.
type PeerConnection struct {
	*base
	endpoint provider.EndpointConfig
	model    string
	api      *webrtc.API
	// gathered reports the end of ICE gathering
	gathered func(*webrtc.PeerConnection) <-chan struct{}

	pcMu sync.Mutex
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	finishReq chan chan struct{}
	inboxDone chan struct{}
	writeDone chan struct{}

	decoder *openaiDecoder
	turn    turn
}

func NewPeerConnection(id string, endpoint provider.EndpointConfig, model string, api *webrtc.API, opts Options) *PeerConnection {
	return &PeerConnection{
		base:      newBase(id, opts),
		endpoint:  endpoint,
		model:     model,
		api:       api,
		gathered:  webrtc.GatheringCompletePromise,
		finishReq: make(chan chan struct{}),
	}
}

func (c *PeerConnection) Start(ctx context.Context) error {
	runCtx, err := c.beginStart(ctx)
	if err != nil {
		return err
	}
	defer c.wg.Done()

	if err := c.checkConfig(); err != nil {
		return err
	}
	c.awaitPreviousRun()

	hsCtx, span := tracing.Start(runCtx, "transcriber.peer.handshake", tracing.Provider(c.id))
	err = c.negotiate(runCtx, hsCtx)
	tracing.End(span, err)
	if err != nil {
		c.fail(err)
		return err
	}

	pending, err := c.finishStart()
	if err != nil {
		return err
	}

	writeDone := make(chan struct{})
	c.pcMu.Lock()
	c.writeDone = writeDone
	track := c.trackLocked()
	c.pcMu.Unlock()

	c.wg.Add(1)
	go c.writeLoop(runCtx, track, writeDone)

	c.log.Info().Msg("transcriber: peer connected")
	if pending != nil {
		_ = c.submit(*pending)
	}
	return nil
}

func (c *PeerConnection) awaitPreviousRun() {
	c.pcMu.Lock()
	inboxDone, writeDone := c.inboxDone, c.writeDone
	c.pcMu.Unlock()
	if inboxDone != nil {
		<-inboxDone
	}
	if writeDone != nil {
		<-writeDone
	}
}

// negotiate builds the peer, exchanges the offer and waits for the events
// channel to open. The peer closes when runCtx ends.
func (c *PeerConnection) negotiate(runCtx, ctx context.Context) error {
	api := c.api
	if api == nil {
		var err error
		if api, err = NewPeerAPI(false); err != nil {
			return configError(c.id, err.Error())
		}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "create peer", err).ForProvider(c.id)
	}
	context.AfterFunc(runCtx, func() { _ = pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: peerSampleRate, Channels: 1},
		"audio", "sttbench")
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "create track", err).ForProvider(c.id)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "add track", err).ForProvider(c.id)
	}
	dc, err := pc.CreateDataChannel(peerEventsChannel, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "create data channel", err).ForProvider(c.id)
	}

	inbox := make(chan peerSignal, peerInboxSize)
	forward := func(s peerSignal) {
		select {
		case inbox <- s:
		case <-runCtx.Done():
		}
	}
	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() { openOnce.Do(func() { close(opened) }) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		forward(peerSignal{data: msg.Data})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		forward(peerSignal{state: s})
	})

	inboxDone := make(chan struct{})
	c.pcMu.Lock()
	c.pc, c.dc = pc, dc
	c.inboxDone = inboxDone
	c.decoder = newOpenAIDecoder()
	c.pcMu.Unlock()
	c.turn.reset()

	c.wg.Add(1)
	go c.readLoop(runCtx, inbox, inboxDone)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "create offer", err).ForProvider(c.id)
	}
	gathered := c.gathered(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "set local description", err).ForProvider(c.id)
	}

	ice := time.NewTimer(c.opts.ICETimeout)
	defer ice.Stop()
	select {
	case <-gathered:
	case <-ice.C:
		// offer whatever candidates were gathered so far
		c.log.Warn().Dur("timeout", c.opts.ICETimeout).Msg("transcriber: ice gathering incomplete, sending partial offer")
	case <-runCtx.Done():
		return fmt.Errorf("handshake cancelled: %w", runCtx.Err())
	}

	hsCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	answer, err := c.exchange(hsCtx, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return apperr.Wrap(apperr.CodeTranscriptionFailed, "handshake", "invalid answer", err).ForProvider(c.id)
	}

	select {
	case <-opened:
	case <-hsCtx.Done():
		if runCtx.Err() != nil {
			return fmt.Errorf("handshake cancelled: %w", runCtx.Err())
		}
		return apperr.Wrap(apperr.CodeServerUnavailable, "handshake", "events channel did not open", hsCtx.Err()).ForProvider(c.id)
	}

	setup, err := openaiSessionMessage("session.update", openaiTranscriptionModel, c.opts.Language, true)
	if err != nil {
		return configError(c.id, err.Error())
	}
	if err := dc.SendText(string(setup)); err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "send session update", err).ForProvider(c.id)
	}
	return nil
}

// exchange posts the offer and returns the answer SDP.
func (c *PeerConnection) exchange(ctx context.Context, offer string) (string, error) {
	u, err := url.Parse(c.endpoint.URL())
	if err != nil {
		return "", configError(c.id, "parse endpoint: "+err.Error())
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", configError(c.id, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", requestError("handshake", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeNetworkError, "handshake", "read answer", err).ForProvider(c.id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("handshake", resp.StatusCode, body)
	}
	return string(body), nil
}

func (c *PeerConnection) readLoop(ctx context.Context, inbox <-chan peerSignal, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-inbox:
			if sig.data == nil {
				c.onState(sig.state)
				continue
			}
			msg, err := c.decoder.Decode(sig.data)
			if err != nil {
				c.protocolError(err)
				continue
			}
			c.protocolOK()
			c.dispatch(&c.turn, msg)
		}
	}
}

func (c *PeerConnection) onState(s webrtc.PeerConnectionState) {
	c.log.Debug().Stringer("peer_state", s).Msg("transcriber: peer state")
	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		c.fail(apperr.New(apperr.CodeNetworkError, "read", "peer connection "+s.String()).ForProvider(c.id))
	}
}

func (c *PeerConnection) trackLocked() *webrtc.TrackLocalStaticSample {
	if c.pc == nil {
		return nil
	}
	for _, sender := range c.pc.GetSenders() {
		if t, ok := sender.Track().(*webrtc.TrackLocalStaticSample); ok {
			return t
		}
	}
	return nil
}

func (c *PeerConnection) writeLoop(ctx context.Context, track *webrtc.TrackLocalStaticSample, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			if err := c.writeAudio(track, frame); err != nil {
				if ctx.Err() == nil {
					c.fail(err)
				}
				return
			}
		case fin := <-c.finishReq:
			c.finish(track)
			close(fin)
			return
		}
	}
}

func (c *PeerConnection) finish(track *webrtc.TrackLocalStaticSample) {
queued:
	for {
		select {
		case frame := <-c.out:
			if err := c.writeAudio(track, frame); err != nil {
				c.log.Debug().Err(err).Msg("transcriber: write during finish failed")
				return
			}
		default:
			break queued
		}
	}
	c.pcMu.Lock()
	dc := c.dc
	c.pcMu.Unlock()
	if dc == nil {
		return
	}
	if err := dc.SendText(string(openaiCommit)); err != nil {
		c.log.Debug().Err(err).Msg("transcriber: commit send failed")
	}
}

func (c *PeerConnection) writeAudio(track *webrtc.TrackLocalStaticSample, frame audio.Frame) error {
	if track == nil {
		return apperr.New(apperr.CodeNetworkError, "write", "no audio track").ForProvider(c.id)
	}
	pcm := audio.ResamplePCM(frame.PCM, frame.SampleRate, peerSampleRate)
	if len(pcm) == 0 {
		return nil
	}
	samples := len(pcm) / 2
	err := track.WriteSample(media.Sample{
		Data:     g711.EncodeUlaw(pcm),
		Duration: time.Duration(samples) * time.Second / peerSampleRate,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkError, "write", "write sample", err).ForProvider(c.id)
	}
	c.markAudioSent()
	return nil
}

func (c *PeerConnection) Submit(frame audio.Frame) error {
	return c.submit(frame)
}

func (c *PeerConnection) Stop(ctx context.Context) error {
	return c.stop(ctx, teardown{
		drain: c.drain,
		close: c.closePeer,
		flush: func() { c.flushTurn(&c.turn) },
	})
}

func (c *PeerConnection) drain(ctx context.Context) {
	c.pcMu.Lock()
	inboxDone := c.inboxDone
	c.pcMu.Unlock()

	c.drainFinal()
	done := make(chan struct{})
	select {
	case c.finishReq <- done:
	case <-inboxDone:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		return
	}
	if c.awaitingFinal.Load() {
		c.waitFinal(ctx, inboxDone)
	}
}

func (c *PeerConnection) closePeer() {
	c.pcMu.Lock()
	pc := c.pc
	c.pcMu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

var (
	_ Connection        = (*PeerConnection)(nil)
	_ BlockingSubmitter = (*PeerConnection)(nil)
)
