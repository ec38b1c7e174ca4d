package transcriber

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// Realtime API client events
type openaiSessionUpdate struct {
	Type    string              `json:"type"`
	Session openaiSessionConfig `json:"session"`
}

type openaiSessionConfig struct {
	Modalities              []string                   `json:"modalities,omitempty"`
	InputAudioFormat        string                     `json:"input_audio_format,omitempty"`
	InputAudioTranscription *openaiTranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *openaiTurnDetection       `json:"turn_detection,omitempty"`
}

type openaiTranscriptionConfig struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

type openaiTurnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMs int    `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool  `json:"create_response,omitempty"`
}

type openaiAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Realtime API server events
type openaiServerEvent struct {
	Type       string             `json:"type"`
	ItemID     string             `json:"item_id,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	Error      *openaiServerError `json:"error,omitempty"`
}

type openaiServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

const (
	openaiSilenceMs          = 500
	openaiKeepAliveChunk     = 100 * time.Millisecond
	openaiTranscriptionModel = "gpt-4o-transcribe"
)

var openaiCommit = []byte(`{"type":"input_audio_buffer.commit"}`)

func openaiSessionMessage(eventType, transcriptionModel, lang string, withModalities bool) ([]byte, error) {
	cfg := openaiSessionConfig{
		InputAudioTranscription: &openaiTranscriptionConfig{Model: transcriptionModel, Language: lang},
		TurnDetection:           &openaiTurnDetection{Type: "server_vad", SilenceDurationMs: openaiSilenceMs},
	}
	if withModalities {
		// conversation sessions must not answer, only transcribe
		noResponse := false
		cfg.Modalities = []string{"text"}
		cfg.TurnDetection.CreateResponse = &noResponse
	} else {
		cfg.InputAudioFormat = "pcm16"
	}
	return json.Marshal(openaiSessionUpdate{Type: eventType, Session: cfg})
}

// openaiDecoder classifies realtime server events. It accumulates
// transcription deltas per item, so one decoder serves one session.
type openaiDecoder struct {
	deltas map[string]*strings.Builder
}

func newOpenAIDecoder() *openaiDecoder {
	return &openaiDecoder{deltas: make(map[string]*strings.Builder)}
}

func (d *openaiDecoder) Decode(data []byte) (Inbound, error) {
	var ev openaiServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Inbound{}, fmt.Errorf("openai: decode: %w", err)
	}

	switch ev.Type {
	case "session.updated", "transcription_session.updated":
		return Inbound{Kind: InboundAck}, nil

	case "conversation.item.input_audio_transcription.delta":
		b, ok := d.deltas[ev.ItemID]
		if !ok {
			b = &strings.Builder{}
			d.deltas[ev.ItemID] = b
		}
		b.WriteString(ev.Delta)
		return Inbound{Kind: InboundPartial, Text: b.String()}, nil

	case "conversation.item.input_audio_transcription.completed":
		delete(d.deltas, ev.ItemID)
		return Inbound{Kind: InboundTurnEnd, Text: ev.Transcript}, nil

	case "conversation.item.input_audio_transcription.failed":
		delete(d.deltas, ev.ItemID)
		msg := "transcription failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return Inbound{Kind: InboundError, Err: apperr.New(apperr.CodeTranscriptionFailed, "read", "openai: "+msg)}, nil

	case "error":
		if ev.Error == nil {
			return Inbound{}, errors.New("openai: error event without body")
		}
		return openaiErrorInbound(ev.Error), nil

	case "":
		return Inbound{}, errors.New("openai: event without type")
	}
	return Inbound{Kind: InboundIgnore}, nil
}

func openaiErrorInbound(e *openaiServerError) Inbound {
	msg := "openai: " + e.Message
	switch {
	case e.Code == "input_audio_buffer_commit_empty":
		// nothing was pending, the turn is already complete
		return Inbound{Kind: InboundTurnEnd}
	case e.Code == "invalid_api_key" || e.Type == "authentication_error":
		return Inbound{Kind: InboundError, Fatal: true, Err: apperr.New(apperr.CodeAPIKeyNotConfigured, "read", msg)}
	case e.Code == "rate_limit_exceeded" || e.Code == "insufficient_quota":
		return Inbound{Kind: InboundError, Err: apperr.New(apperr.CodeRateLimitExceeded, "read", msg)}
	case e.Type == "server_error":
		return Inbound{Kind: InboundError, Err: apperr.New(apperr.CodeServerUnavailable, "read", msg)}
	}
	return Inbound{Kind: InboundError, Err: apperr.New(apperr.CodeTranscriptionFailed, "read", msg)}
}

// openaiRealtimeProtocol speaks the realtime websocket API in transcription mode.
type openaiRealtimeProtocol struct {
	*openaiDecoder
	endpoint   provider.EndpointConfig
	apiKey     string
	model      string
	language   string
	sampleRate int
}

func newOpenAIRealtimeProtocol(endpoint provider.EndpointConfig, apiKey, model, lang string, sampleRate int) *openaiRealtimeProtocol {
	return &openaiRealtimeProtocol{
		openaiDecoder: newOpenAIDecoder(),
		endpoint:      endpoint,
		apiKey:        apiKey,
		model:         model,
		language:      lang,
		sampleRate:    sampleRate,
	}
}

func (p *openaiRealtimeProtocol) Dial() (string, http.Header, error) {
	u, err := url.Parse(p.endpoint.URL())
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("intent", "transcription")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	return u.String(), header, nil
}

func (p *openaiRealtimeProtocol) Setup() ([]byte, error) {
	return openaiSessionMessage("transcription_session.update", p.model, p.language, false)
}

func (p *openaiRealtimeProtocol) AckOnConnect() bool { return false }

func (p *openaiRealtimeProtocol) Audio(pcm []byte) (int, []byte, error) {
	data, err := json.Marshal(openaiAudioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	return websocket.TextMessage, data, err
}

func (p *openaiRealtimeProtocol) KeepAlive() (int, []byte, error) {
	return p.Audio(audio.Silence(openaiKeepAliveChunk, p.sampleRate))
}

func (p *openaiRealtimeProtocol) Finish() ([]byte, error) {
	return openaiCommit, nil
}

var _ StreamProtocol = (*openaiRealtimeProtocol)(nil)
