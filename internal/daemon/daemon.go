// Package daemon serves the control socket and owns the live capture
// session started through it.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/bus"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/notify"
	"github.com/leonardotrapani/sttbench/internal/pipeline"
)

// SessionFactory prepares a live session and returns its id and pipeline.
type SessionFactory func() (string, pipeline.Pipeline, error)

type Daemon struct {
	endpoint   bus.Endpoint
	notifier   notify.Notifier
	newSession SessionFactory
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	pipeline  pipeline.Pipeline
	sessionID string
	watchers  sync.WaitGroup
}

func New(endpoint bus.Endpoint, n notify.Notifier, newSession SessionFactory) *Daemon {
	if n == nil {
		n = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		endpoint:   endpoint,
		notifier:   n,
		newSession: newSession,
		log:        logging.WithComponent("daemon"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context is cancelled when the daemon shuts down.
func (d *Daemon) Context() context.Context {
	return d.ctx
}

func (d *Daemon) Shutdown() {
	d.cancel()
}

// Status renders the STATUS line fields.
func (d *Daemon) Status() (state pipeline.Status, sessionID string, providers string) {
	d.mu.RLock()
	p, id := d.pipeline, d.sessionID
	d.mu.RUnlock()
	if p == nil {
		return pipeline.Idle, "", ""
	}

	statuses := p.Providers()
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, s.ProviderID+":"+s.StateName)
	}
	sort.Strings(parts)
	return p.Status(), id, strings.Join(parts, ",")
}

func (d *Daemon) Run() error {
	if err := d.endpoint.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := d.endpoint.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := d.endpoint.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.endpoint.RemovePidFile()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			d.log.Info().Str("signal", sig.String()).Msg("daemon: shutting down gracefully")
			d.cancel()
		case <-d.ctx.Done():
		}
	}()

	// Close the listener when context is done
	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	d.log.Info().Str("socket", d.endpoint.SockPath()).Msg("daemon: listening on socket")

	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				d.log.Info().Msg("daemon: shutdown requested")
				d.stopActive()
				return nil
			}
			d.log.Error().Err(err).Msg("daemon: accept error")
			d.stopActive()
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(c)
	}
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		d.log.Debug().Err(err).Msg("daemon: client read error")
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 || line[0] == '\n' {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStart:
		id, err := d.start()
		if err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprintf(c, "OK started session=%s\n", id)
	case bus.CmdStop:
		id, ok := d.finish()
		if !ok {
			fmt.Fprint(c, "ERR idle\n")
			return
		}
		fmt.Fprintf(c, "OK stopping session=%s\n", id)
	case bus.CmdStatus:
		state, id, providers := d.Status()
		fmt.Fprintf(c, "STATUS state=%s session=%s providers=%s\n", state, id, providers)
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s\n", bus.ProtoVer)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		d.log.Debug().Str("cmd", string(cmd)).Msg("daemon: unknown command")
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

func (d *Daemon) start() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline != nil {
		return "", fmt.Errorf("busy session=%s", d.sessionID)
	}
	if d.newSession == nil {
		return "", fmt.Errorf("live sessions unavailable")
	}

	id, p, err := d.newSession()
	if err != nil {
		d.log.Error().Err(err).Msg("daemon: failed to prepare session")
		go d.notifier.Error(err.Error())
		return "", err
	}
	d.pipeline, d.sessionID = p, id
	p.Run(d.ctx)
	go d.notifier.SessionChanged(true, id)

	d.watchers.Add(1)
	go d.watch(id, p)
	return id, nil
}

// watch clears the active session once its pipeline finishes.
func (d *Daemon) watch(id string, p pipeline.Pipeline) {
	defer d.watchers.Done()
	<-p.Done()

	d.mu.Lock()
	if d.pipeline == p {
		d.pipeline, d.sessionID = nil, ""
	}
	d.mu.Unlock()

	if _, err := p.Result(); err != nil {
		d.log.Warn().Err(err).Str("sessionId", id).Msg("daemon: session ended with error")
		go d.notifier.Error(fmt.Sprintf("session %s: %v", id, err))
	}
	go d.notifier.SessionChanged(false, id)
}

func (d *Daemon) finish() (string, bool) {
	d.mu.RLock()
	p, id := d.pipeline, d.sessionID
	d.mu.RUnlock()
	if p == nil {
		return "", false
	}
	select {
	case p.Actions() <- pipeline.Finish:
	default: // a finish is already queued
	}
	return id, true
}

// stopActive ends the live session and waits for its result to be stored.
func (d *Daemon) stopActive() {
	d.mu.RLock()
	p := d.pipeline
	d.mu.RUnlock()
	if p != nil {
		p.Stop()
	}
	d.watchers.Wait()
}
