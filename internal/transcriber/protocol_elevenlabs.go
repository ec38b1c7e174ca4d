package transcriber

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/audio"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// elevenLabsProtocol speaks the Scribe realtime API with VAD commits.
type elevenLabsProtocol struct {
	endpoint   provider.EndpointConfig
	apiKey     string
	model      string
	language   string
	sampleRate int
}

type elevenLabsAudioChunk struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	Commit      bool   `json:"commit"`
	SampleRate  int    `json:"sample_rate"`
}

type elevenLabsMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text,omitempty"`
	Error       string `json:"error,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Words       []struct {
		SpeakerID string `json:"speaker_id,omitempty"`
	} `json:"words,omitempty"`
}

const elevenLabsKeepAliveChunk = 100 * time.Millisecond

func (p *elevenLabsProtocol) Dial() (string, http.Header, error) {
	u, err := url.Parse(p.endpoint.URL())
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model_id", p.model)
	q.Set("audio_format", "pcm_"+strconv.Itoa(p.sampleRate))
	if p.language != "" {
		q.Set("language_code", p.language)
	}
	q.Set("commit_strategy", "vad")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("xi-api-key", p.apiKey)
	return u.String(), header, nil
}

func (p *elevenLabsProtocol) Setup() ([]byte, error) { return nil, nil }

func (p *elevenLabsProtocol) AckOnConnect() bool { return false }

func (p *elevenLabsProtocol) chunk(pcm []byte, commit bool) ([]byte, error) {
	return json.Marshal(elevenLabsAudioChunk{
		MessageType: "input_audio_chunk",
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
		Commit:      commit,
		SampleRate:  p.sampleRate,
	})
}

func (p *elevenLabsProtocol) Audio(pcm []byte) (int, []byte, error) {
	data, err := p.chunk(pcm, false)
	return websocket.TextMessage, data, err
}

// KeepAlive sends a short silent chunk; the API has no dedicated ping message.
func (p *elevenLabsProtocol) KeepAlive() (int, []byte, error) {
	data, err := p.chunk(audio.Silence(elevenLabsKeepAliveChunk, p.sampleRate), false)
	return websocket.TextMessage, data, err
}

func (p *elevenLabsProtocol) Finish() ([]byte, error) {
	return p.chunk(nil, true)
}

func (p *elevenLabsProtocol) Decode(data []byte) (Inbound, error) {
	var msg elevenLabsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("elevenlabs: decode: %w", err)
	}

	switch msg.MessageType {
	case "session_started":
		return Inbound{Kind: InboundAck}, nil
	case "partial_transcript":
		return Inbound{Kind: InboundPartial, Text: msg.Text}, nil
	case "committed_transcript":
		return Inbound{Kind: InboundTurnEnd, Text: msg.Text, Speaker: msg.speaker()}, nil
	case "committed_transcript_with_timestamps":
		// follows the plain commit of the same turn
		return Inbound{Kind: InboundTurnEnd, Text: msg.Text, Speaker: msg.speaker(), Echo: true}, nil
	case "":
		return Inbound{}, errors.New("elevenlabs: message without message_type")
	}

	if code, fatal, ok := elevenLabsErrorCode(msg.MessageType); ok {
		text := msg.Error
		if text == "" {
			text = msg.MessageType
		}
		err := apperr.New(code, "read", "elevenlabs: "+text)
		return Inbound{Kind: InboundError, Err: err, Fatal: fatal}, nil
	}
	return Inbound{Kind: InboundIgnore}, nil
}

func (m elevenLabsMessage) speaker() string {
	speaker := ""
	for _, w := range m.Words {
		if w.SpeakerID == "" {
			continue
		}
		if speaker != "" && speaker != w.SpeakerID {
			return ""
		}
		speaker = w.SpeakerID
	}
	return speaker
}

// elevenLabsErrorCode classifies the realtime API's error message types.
func elevenLabsErrorCode(messageType string) (apperr.Code, bool, bool) {
	switch messageType {
	case "auth_error", "unaccepted_terms":
		return apperr.CodeAPIKeyNotConfigured, true, true
	case "quota_exceeded":
		return apperr.CodeRateLimitExceeded, true, true
	case "rate_limited", "commit_throttled":
		return apperr.CodeRateLimitExceeded, false, true
	case "queue_overflow", "resource_exhausted", "transcriber_error":
		return apperr.CodeServerUnavailable, false, true
	case "session_time_limit_exceeded":
		return apperr.CodeServerUnavailable, true, true
	case "error", "input_error", "chunk_size_exceeded", "insufficient_audio_activity":
		return apperr.CodeTranscriptionFailed, false, true
	}
	return "", false, false
}

var _ StreamProtocol = (*elevenLabsProtocol)(nil)
