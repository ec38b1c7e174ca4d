package transcriber

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newWSServer starts a fake vendor that runs handle for every upgraded socket.
func newWSServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) provider.EndpointConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return provider.EndpointConfig{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Path: "/v1/listen"}
}

func testFrame(seq uint64, d time.Duration) audio.Frame {
	return audio.Frame{
		Seq:        seq,
		SampleRate: audio.CanonicalRate,
		Channels:   1,
		PCM:        audio.Silence(d, audio.CanonicalRate),
		Timestamp:  time.Now(),
	}
}

func testOptions() Options {
	return Options{
		SessionID:         "test-session",
		APIKey:            "test-key",
		HandshakeTimeout:  time.Second,
		FinalizeTimeout:   500 * time.Millisecond,
		KeepAliveInterval: time.Minute,
	}
}

// nextEvent waits for one event or fails the test.
func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// nextFinal skips partials until a final or error arrives.
func nextFinal(t *testing.T, events <-chan Event) Event {
	t.Helper()
	for {
		ev := nextEvent(t, events)
		if ev.IsFinal || ev.IsError() {
			return ev
		}
	}
}

// drain reads events until the channel closes.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("events channel never closed")
			return out
		}
	}
}

func finals(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.IsFinal {
			out = append(out, ev.Text)
		}
	}
	return out
}

func waitState(t *testing.T, c Connection, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}
