package transcriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

func deepgramResult(text string, isFinal, speechFinal bool) []byte {
	msg := map[string]any{
		"type":         "Results",
		"is_final":     isFinal,
		"speech_final": speechFinal,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
		},
	}
	data, _ := json.Marshal(msg)
	return data
}

func newDeepgramConn(endpoint provider.EndpointConfig, opts Options) *StreamConnection {
	proto := &deepgramProtocol{endpoint: endpoint, apiKey: opts.APIKey, model: "nova-3", language: "ja", sampleRate: 16000}
	return NewStreamConnection(provider.IDDeepgramNova, proto, 16000, opts)
}

func TestStreamConnection_DeepgramTurns(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization = %q, want Token test-key", got)
		}
		q := r.URL.Query()
		if q.Get("model") != "nova-3" || q.Get("encoding") != "linear16" || q.Get("language") != "ja" {
			t.Errorf("query = %v", q)
		}

		mt, _, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			t.Errorf("first message type = %d, err = %v, want binary audio", mt, err)
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, deepgramResult("こんにちは", false, false))
		_ = conn.WriteMessage(websocket.TextMessage, deepgramResult("こんにちは世界", true, false))
		_ = conn.WriteMessage(websocket.TextMessage, deepgramResult("元気ですか", true, true))

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				_ = conn.WriteMessage(websocket.TextMessage, deepgramResult("さようなら", true, true))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","metadata":{"request_id":"r1"}}`))
				return
			}
		}
	})

	c := newDeepgramConn(endpoint, testOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Submit(testFrame(0, 100*time.Millisecond)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ev := nextEvent(t, c.Events())
	if ev.IsFinal || ev.Text != "こんにちは" {
		t.Errorf("first event = %+v, want partial こんにちは", ev)
	}
	ev = nextFinal(t, c.Events())
	if ev.Text != "こんにちは世界 元気ですか" {
		t.Errorf("final = %q, want the whole turn", ev.Text)
	}

	// fresh audio makes stop wait for the closing final
	_ = c.Submit(testFrame(1, 100*time.Millisecond))
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	got := finals(drain(t, c.Events()))
	if len(got) != 1 || got[0] != "さようなら" {
		t.Errorf("finals after stop = %v, want [さようなら]", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}

func TestStreamConnection_FlushesOpenTurnOnStop(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, deepgramResult("途中まで", true, false))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	opts := testOptions()
	opts.FinalizeTimeout = 100 * time.Millisecond
	c := newDeepgramConn(endpoint, opts)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = c.Submit(testFrame(0, 100*time.Millisecond))
	ev := nextEvent(t, c.Events())
	if ev.IsFinal {
		t.Fatalf("segment inside a turn should be partial, got %+v", ev)
	}

	_ = c.Stop(context.Background())
	got := finals(drain(t, c.Events()))
	if len(got) != 1 || got[0] != "途中まで" {
		t.Errorf("finals = %v, want the open turn flushed", got)
	}
}

func TestStreamConnection_KeepAlive(t *testing.T) {
	var keepAlives atomic.Int32
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), "KeepAlive") {
				keepAlives.Add(1)
			}
		}
	})

	opts := testOptions()
	opts.KeepAliveInterval = 30 * time.Millisecond
	c := newDeepgramConn(endpoint, opts)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	_ = c.Stop(context.Background())

	if keepAlives.Load() == 0 {
		t.Error("no keep-alive sent while idle")
	}
}

func TestStreamConnection_AudioResetsKeepAlive(t *testing.T) {
	var keepAlives atomic.Int32
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), "KeepAlive") {
				keepAlives.Add(1)
			}
		}
	})

	opts := testOptions()
	opts.KeepAliveInterval = 150 * time.Millisecond
	c := newDeepgramConn(endpoint, opts)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 8; i++ {
		_ = c.Submit(testFrame(uint64(i), 20*time.Millisecond))
		time.Sleep(40 * time.Millisecond)
	}
	_ = c.Stop(context.Background())

	if n := keepAlives.Load(); n != 0 {
		t.Errorf("keep-alives = %d while audio was flowing, want 0", n)
	}
}

func TestStreamConnection_ProtocolErrorThreshold(t *testing.T) {
	tests := []struct {
		name       string
		bad        int
		wantFailed bool
	}{
		{name: "at threshold", bad: 5, wantFailed: false},
		{name: "over threshold", bad: 6, wantFailed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
				for i := 0; i < tt.bad; i++ {
					_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
				}
				_ = conn.WriteMessage(websocket.TextMessage, deepgramResult("ok", true, true))
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			})

			c := newDeepgramConn(endpoint, testOptions())
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			ev := nextFinal(t, c.Events())
			if tt.wantFailed {
				if !ev.IsError() || ev.Error.Code != apperr.CodeTranscriptionFailed {
					t.Errorf("event = %+v, want TRANSCRIPTION_FAILED", ev)
				}
				waitState(t, c, StateFailed)
			} else {
				if ev.IsError() || ev.Text != "ok" {
					t.Errorf("event = %+v, want final ok", ev)
				}
				if c.State() == StateFailed {
					t.Error("connection failed below the threshold")
				}
			}
			_ = c.Stop(context.Background())
		})
	}
}

func TestStreamConnection_DialUnauthorizedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	endpoint := provider.EndpointConfig{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Path: "/v1/listen"}
	c := newDeepgramConn(endpoint, testOptions())

	err := c.Start(context.Background())
	if !IsFatal(err) || !apperr.IsCode(err, apperr.CodeAPIKeyNotConfigured) {
		t.Fatalf("Start() error = %v, want fatal API_KEY_NOT_CONFIGURED", err)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	ev := nextEvent(t, c.Events())
	if !ev.Fatal {
		t.Errorf("event = %+v, want fatal error", ev)
	}
	_ = c.Stop(context.Background())
}

func TestStreamConnection_ConnectionLost(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	c := newDeepgramConn(endpoint, testOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = c.Submit(testFrame(0, 100*time.Millisecond))

	ev := nextFinal(t, c.Events())
	if !ev.IsError() || ev.Error.Code != apperr.CodeNetworkError {
		t.Errorf("event = %+v, want NETWORK_ERROR", ev)
	}
	waitState(t, c, StateFailed)
	_ = c.Stop(context.Background())
}

func newElevenLabsConn(endpoint provider.EndpointConfig, opts Options) *StreamConnection {
	proto := &elevenLabsProtocol{endpoint: endpoint, apiKey: opts.APIKey, model: "scribe_v2_realtime", language: "jpn", sampleRate: 16000}
	return NewStreamConnection(provider.IDElevenLabsRealtime, proto, 16000, opts)
}

func TestStreamConnection_ElevenLabsHandshake(t *testing.T) {
	var chunks atomic.Int32
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("xi-api-key = %q", got)
		}
		if got := r.URL.Query().Get("commit_strategy"); got != "vad" {
			t.Errorf("commit_strategy = %q, want vad", got)
		}
		_ = conn.WriteJSON(map[string]string{"message_type": "session_started", "session_id": "s1"})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var chunk elevenLabsAudioChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				t.Errorf("client sent invalid json: %v", err)
				return
			}
			if chunk.Commit {
				_ = conn.WriteJSON(map[string]string{"message_type": "committed_transcript", "text": "最後"})
				continue
			}
			if chunks.Add(1) > 1 {
				continue
			}
			_ = conn.WriteJSON(map[string]string{"message_type": "partial_transcript", "text": "もしもし"})
			_ = conn.WriteJSON(map[string]string{"message_type": "committed_transcript", "text": "もしもし"})
			_ = conn.WriteJSON(map[string]string{"message_type": "committed_transcript_with_timestamps", "text": "もしもし"})
		}
	})

	c := newElevenLabsConn(endpoint, testOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = c.Submit(testFrame(0, 100*time.Millisecond))
	ev := nextFinal(t, c.Events())
	if ev.Text != "もしもし" {
		t.Fatalf("final = %q, want もしもし", ev.Text)
	}
	// let the duplicate commit arrive before stopping
	time.Sleep(50 * time.Millisecond)

	_ = c.Submit(testFrame(1, 100*time.Millisecond))
	_ = c.Stop(context.Background())
	got := finals(drain(t, c.Events()))
	if len(got) != 1 || got[0] != "最後" {
		t.Errorf("finals after the first = %v, want duplicate suppressed and [最後]", got)
	}
}

func TestStreamConnection_RepeatedTurnsWithoutPartials(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteJSON(map[string]string{"message_type": "session_started", "session_id": "s1"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var chunk elevenLabsAudioChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return
			}
			if chunk.Commit {
				continue
			}
			_ = conn.WriteJSON(map[string]string{"message_type": "committed_transcript", "text": "はい"})
		}
	})

	c := newElevenLabsConn(endpoint, testOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = c.Submit(testFrame(uint64(i), 100*time.Millisecond))
		if ev := nextFinal(t, c.Events()); ev.Text != "はい" {
			t.Fatalf("final %d = %q, want はい", i, ev.Text)
		}
	}
	_ = c.Stop(context.Background())
}

func TestDispatch_EchoOfClosedTurnSuppressed(t *testing.T) {
	c := NewUploadConnection("fake", &fakeUploader{}, 16000, testOptions())
	var tr turn

	c.dispatch(&tr, Inbound{Kind: InboundTurnEnd, Text: "はい"})
	c.dispatch(&tr, Inbound{Kind: InboundTurnEnd, Text: "はい", Echo: true})
	c.dispatch(&tr, Inbound{Kind: InboundTurnEnd, Text: "はい"})
	c.dispatch(&tr, Inbound{Kind: InboundTurnEnd, Text: "いいえ", Echo: true})

	var got []string
	for len(c.events) > 0 {
		if ev := <-c.events; ev.IsFinal {
			got = append(got, ev.Text)
		}
	}
	want := []string{"はい", "はい", "いいえ"}
	if len(got) != len(want) {
		t.Fatalf("finals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("finals[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamConnection_HandshakeTimeout(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	opts := testOptions()
	opts.HandshakeTimeout = 100 * time.Millisecond
	c := newElevenLabsConn(endpoint, opts)

	start := time.Now()
	err := c.Start(context.Background())
	if !apperr.IsCode(err, apperr.CodeServerUnavailable) {
		t.Fatalf("Start() error = %v, want SERVER_UNAVAILABLE", err)
	}
	if IsFatal(err) {
		t.Error("handshake timeout should be retryable")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Start() took %v", elapsed)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	_ = c.Stop(context.Background())
}

func TestStreamConnection_HandshakeAuthError(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteJSON(map[string]string{"message_type": "auth_error", "error": "invalid api key"})
		_, _, _ = conn.ReadMessage()
	})

	c := newElevenLabsConn(endpoint, testOptions())
	err := c.Start(context.Background())
	if !IsFatal(err) || !apperr.IsCode(err, apperr.CodeAPIKeyNotConfigured) {
		t.Fatalf("Start() error = %v, want fatal API_KEY_NOT_CONFIGURED", err)
	}
	_ = c.Stop(context.Background())
}

func TestStreamConnection_StopDuringHandshake(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	opts := testOptions()
	opts.HandshakeTimeout = 5 * time.Second
	c := newElevenLabsConn(endpoint, opts)

	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background()) }()
	waitState(t, c, StateConnecting)
	time.Sleep(50 * time.Millisecond)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case err := <-errc:
		if err == nil {
			t.Error("Start() should fail when stopped mid-handshake")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}

func TestStreamConnection_OpenAIRealtime(t *testing.T) {
	endpoint := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		if got := r.URL.Query().Get("intent"); got != "transcription" {
			t.Errorf("intent = %q, want transcription", got)
		}
		var setup struct {
			Type    string `json:"type"`
			Session struct {
				InputAudioFormat        string `json:"input_audio_format"`
				InputAudioTranscription struct {
					Model    string `json:"model"`
					Language string `json:"language"`
				} `json:"input_audio_transcription"`
			} `json:"session"`
		}
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		if setup.Type != "transcription_session.update" || setup.Session.InputAudioFormat != "pcm16" ||
			setup.Session.InputAudioTranscription.Model != "gpt-4o-transcribe" {
			t.Errorf("setup = %+v", setup)
		}
		_ = conn.WriteJSON(map[string]string{"type": "transcription_session.updated"})

		for {
			var ev struct {
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			switch ev.Type {
			case "input_audio_buffer.append":
				_ = conn.WriteJSON(map[string]string{"type": "conversation.item.input_audio_transcription.delta", "item_id": "i1", "delta": "今日は"})
				_ = conn.WriteJSON(map[string]string{"type": "conversation.item.input_audio_transcription.delta", "item_id": "i1", "delta": "晴れ"})
				_ = conn.WriteJSON(map[string]string{"type": "conversation.item.input_audio_transcription.completed", "item_id": "i1", "transcript": "今日は晴れ"})
			case "input_audio_buffer.commit":
				_ = conn.WriteJSON(map[string]any{"type": "error", "error": map[string]string{
					"type": "invalid_request_error", "code": "input_audio_buffer_commit_empty", "message": "buffer empty",
				}})
			}
		}
	})

	proto := newOpenAIRealtimeProtocol(endpoint, "test-key", "gpt-4o-transcribe", "ja", 24000)
	c := NewStreamConnection(provider.IDOpenAIRealtime, proto, 24000, testOptions())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = c.Submit(testFrame(0, 100*time.Millisecond))

	first := nextEvent(t, c.Events())
	second := nextEvent(t, c.Events())
	if first.Text != "今日は" || second.Text != "今日は晴れ" || second.IsFinal {
		t.Errorf("partials = %q, %q", first.Text, second.Text)
	}
	ev := nextFinal(t, c.Events())
	if ev.Text != "今日は晴れ" || !ev.IsFinal {
		t.Errorf("final = %+v", ev)
	}

	start := time.Now()
	_ = c.Stop(context.Background())
	for _, ev := range drain(t, c.Events()) {
		if ev.IsError() {
			t.Errorf("unexpected error after stop: %+v", ev)
		}
	}
	if time.Since(start) > time.Second {
		t.Errorf("Stop() waited %v for a final that could not come", time.Since(start))
	}
}
