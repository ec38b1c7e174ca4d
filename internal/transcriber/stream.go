package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/tracing"
)

// StreamProtocol adapts one vendor's realtime websocket API to StreamConnection.
// Decode is only ever called from one goroutine at a time.
type StreamProtocol interface {
	Dial() (url string, header http.Header, err error)
	// Setup is the configuration message sent right after the upgrade, nil for none.
	Setup() ([]byte, error)
	// AckOnConnect reports whether the upgrade itself acknowledges the session.
	AckOnConnect() bool
	Audio(pcm []byte) (messageType int, data []byte, err error)
	KeepAlive() (messageType int, data []byte, err error)
	// Finish asks the vendor to finalize pending audio, nil for none.
	Finish() ([]byte, error)
	Decode(data []byte) (Inbound, error)
}

type InboundKind int

const (
	InboundIgnore  InboundKind = iota
	InboundAck                 // session acknowledged
	InboundPartial             // interim text for the current turn
	InboundSegment             // finalized text inside the current turn
	InboundTurnEnd             // turn boundary, Text (if any) completes the turn
	InboundError
)

// Inbound is a vendor message classified by its type tag.
type Inbound struct {
	Kind    InboundKind
	Text    string
	Speaker string
	Err     error
	Fatal   bool // an InboundError that ends the session
	Echo    bool // an InboundTurnEnd restating the turn that just ended
}

// StreamConnection keeps one websocket open for the whole session.
type StreamConnection struct {
	*base
	proto      StreamProtocol
	sampleRate int

	connMu sync.Mutex
	conn   *websocket.Conn
	wmu    sync.Mutex

	finishReq chan chan struct{}
	readDone  chan struct{}
	writeDone chan struct{}

	turn turn // owned by the read goroutine
}

func NewStreamConnection(id string, proto StreamProtocol, sampleRate int, opts Options) *StreamConnection {
	if sampleRate <= 0 {
		sampleRate = audio.CanonicalRate
	}
	return &StreamConnection{
		base:       newBase(id, opts),
		proto:      proto,
		sampleRate: sampleRate,
		finishReq:  make(chan chan struct{}),
	}
}

func (c *StreamConnection) Start(ctx context.Context) error {
	runCtx, err := c.beginStart(ctx)
	if err != nil {
		return err
	}
	defer c.wg.Done()

	if err := c.checkConfig(); err != nil {
		return err
	}
	c.awaitPreviousRun()

	hsCtx, span := tracing.Start(runCtx, "transcriber.stream.handshake", tracing.Provider(c.id))
	conn, err := c.handshake(hsCtx)
	tracing.End(span, err)
	if err != nil {
		c.fail(err)
		return err
	}

	readDone, writeDone := make(chan struct{}), make(chan struct{})
	c.connMu.Lock()
	c.conn = conn
	c.readDone = readDone
	c.writeDone = writeDone
	c.connMu.Unlock()
	c.turn.reset()

	pending, err := c.finishStart()
	if err != nil {
		conn.Close()
		return err
	}

	context.AfterFunc(runCtx, func() { conn.Close() })
	c.wg.Add(2)
	go c.readLoop(runCtx, conn, readDone)
	go c.writeLoop(runCtx, conn, writeDone)

	c.log.Info().Msg("transcriber: stream connected")
	if pending != nil {
		_ = c.submit(*pending)
	}
	return nil
}

// awaitPreviousRun blocks until the goroutines of a failed run have exited.
// Their context is already cancelled and their socket closed.
func (c *StreamConnection) awaitPreviousRun() {
	c.connMu.Lock()
	readDone, writeDone := c.readDone, c.writeDone
	c.connMu.Unlock()
	if readDone != nil {
		<-readDone
	}
	if writeDone != nil {
		<-writeDone
	}
}

func (c *StreamConnection) handshake(ctx context.Context) (*websocket.Conn, error) {
	hsCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	wsURL, header, err := c.proto.Dial()
	if err != nil {
		return nil, configError(c.id, err.Error())
	}

	c.log.Debug().Str("url", redactQuery(wsURL)).Msg("transcriber: dialing")
	conn, resp, err := c.opts.Dialer.DialContext(hsCtx, wsURL, header)
	if err != nil {
		return nil, c.dialError(ctx, hsCtx, resp, err)
	}

	setup, err := c.proto.Setup()
	if err != nil {
		conn.Close()
		return nil, configError(c.id, err.Error())
	}
	if setup != nil {
		if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
			conn.Close()
			return nil, apperr.Wrap(apperr.CodeNetworkError, "handshake", "send setup", err).ForProvider(c.id)
		}
	}
	if c.proto.AckOnConnect() {
		return conn, nil
	}

	// unblock the read below when the handshake deadline passes or stop cancels it
	expire := context.AfterFunc(hsCtx, func() { _ = conn.SetReadDeadline(time.Now()) })
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, c.dialError(ctx, hsCtx, nil, err)
		}
		msg, err := c.proto.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("transcriber: malformed message during handshake")
			continue
		}
		switch msg.Kind {
		case InboundAck:
			if !expire() {
				conn.Close()
				return nil, c.dialError(ctx, hsCtx, nil, context.DeadlineExceeded)
			}
			return conn, nil
		case InboundError:
			conn.Close()
			if msg.Fatal {
				return nil, NewFatalError(msg.Err)
			}
			return nil, msg.Err
		}
	}
}

func (c *StreamConnection) dialError(ctx, hsCtx context.Context, resp *http.Response, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("handshake cancelled: %w", ctx.Err())
	case resp != nil && resp.StatusCode != 0:
		return statusError("handshake", resp.StatusCode, nil)
	case hsCtx.Err() != nil:
		return apperr.Wrap(apperr.CodeServerUnavailable, "handshake", "no acknowledgement before timeout", hsCtx.Err()).ForProvider(c.id)
	default:
		return apperr.Wrap(apperr.CodeNetworkError, "handshake", "dial failed", err).ForProvider(c.id)
	}
}

func (c *StreamConnection) Submit(frame audio.Frame) error {
	return c.submit(frame)
}

func (c *StreamConnection) Stop(ctx context.Context) error {
	return c.stop(ctx, teardown{
		drain: c.drain,
		close: c.closeConn,
		flush: func() { c.flushTurn(&c.turn) },
	})
}

// drain writes the queued frames and the vendor's finish message, then waits
// briefly for the closing final.
func (c *StreamConnection) drain(ctx context.Context) {
	c.connMu.Lock()
	readDone := c.readDone
	c.connMu.Unlock()

	c.drainFinal()
	done := make(chan struct{})
	select {
	case c.finishReq <- done:
	case <-readDone:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-readDone:
		return
	case <-ctx.Done():
		return
	}
	if c.awaitingFinal.Load() {
		c.waitFinal(ctx, readDone)
	}
}

func (c *StreamConnection) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
}

func (c *StreamConnection) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.State() == StateClosing {
				return
			}
			c.fail(apperr.Wrap(apperr.CodeNetworkError, "read", "connection lost", err).ForProvider(c.id))
			return
		}

		msg, err := c.proto.Decode(data)
		if err != nil {
			c.protocolError(err)
			continue
		}
		c.protocolOK()
		c.dispatch(&c.turn, msg)
	}
}

func (c *StreamConnection) writeLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	keepAlive := time.NewTimer(c.opts.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-c.out:
			if err := c.writeAudio(conn, frame); err != nil {
				if ctx.Err() == nil {
					c.fail(err)
				}
				return
			}
			keepAlive.Reset(c.opts.KeepAliveInterval)

		case <-keepAlive.C:
			if err := c.writeKeepAlive(conn); err != nil {
				if ctx.Err() == nil {
					c.fail(err)
				}
				return
			}
			keepAlive.Reset(c.opts.KeepAliveInterval)

		case done := <-c.finishReq:
			c.finish(conn)
			close(done)
			return
		}
	}
}

func (c *StreamConnection) finish(conn *websocket.Conn) {
queued:
	for {
		select {
		case frame := <-c.out:
			if err := c.writeAudio(conn, frame); err != nil {
				c.log.Debug().Err(err).Msg("transcriber: write during finish failed")
				return
			}
		default:
			break queued
		}
	}
	msg, err := c.proto.Finish()
	if err != nil || msg == nil {
		return
	}
	if err := c.write(conn, websocket.TextMessage, msg); err != nil {
		c.log.Debug().Err(err).Msg("transcriber: finish write failed")
	}
}

func (c *StreamConnection) writeAudio(conn *websocket.Conn, frame audio.Frame) error {
	pcm := frame.PCM
	if frame.SampleRate != c.sampleRate {
		pcm = audio.ResamplePCM(pcm, frame.SampleRate, c.sampleRate)
	}
	mt, data, err := c.proto.Audio(pcm)
	if err != nil {
		return apperr.Wrap(apperr.CodeTranscriptionFailed, "write", "encode audio", err).ForProvider(c.id)
	}
	if err := c.write(conn, mt, data); err != nil {
		return err
	}
	c.markAudioSent()
	return nil
}

func (c *StreamConnection) writeKeepAlive(conn *websocket.Conn) error {
	mt, data, err := c.proto.KeepAlive()
	if err != nil || data == nil {
		return err
	}
	c.log.Debug().Msg("transcriber: keep-alive")
	return c.write(conn, mt, data)
}

func (c *StreamConnection) write(conn *websocket.Conn, mt int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteMessage(mt, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return apperr.Wrap(apperr.CodeNetworkError, "write", "websocket write", err).ForProvider(c.id)
	}
	return nil
}

func redactQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

var (
	_ Connection        = (*StreamConnection)(nil)
	_ BlockingSubmitter = (*StreamConnection)(nil)
)
