package transcriber

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// deepgramProtocol speaks the live /v1/listen API: raw binary PCM out, JSON
// results in. A successful upgrade is the acknowledgement.
type deepgramProtocol struct {
	endpoint   provider.EndpointConfig
	apiKey     string
	model      string
	language   string
	sampleRate int
}

type deepgramResponse struct {
	Type        string            `json:"type"`
	Channel     *deepgramChannel  `json:"channel,omitempty"`
	Metadata    *deepgramMetadata `json:"metadata,omitempty"`
	Error       *deepgramError    `json:"error,omitempty"`
	IsFinal     bool              `json:"is_final,omitempty"`
	SpeechFinal bool              `json:"speech_final,omitempty"`

	// top-level fields of an Error message
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	Variant     string `json:"variant,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramMetadata struct {
	RequestID string `json:"request_id"`
}

type deepgramError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

func (e deepgramError) text() string {
	switch {
	case e.Message != "" && e.Description != "":
		return e.Message + ": " + e.Description
	case e.Description != "":
		return e.Description
	case e.Message != "":
		return e.Message
	}
	return e.Type
}

var (
	deepgramCloseStream = []byte(`{"type":"CloseStream"}`)
	deepgramKeepAlive   = []byte(`{"type":"KeepAlive"}`)
)

func (p *deepgramProtocol) Dial() (string, http.Header, error) {
	u, err := url.Parse(p.endpoint.URL())
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if p.language != "" {
		q.Set("language", p.language)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)
	return u.String(), header, nil
}

func (p *deepgramProtocol) Setup() ([]byte, error) { return nil, nil }

func (p *deepgramProtocol) AckOnConnect() bool { return true }

func (p *deepgramProtocol) Audio(pcm []byte) (int, []byte, error) {
	return websocket.BinaryMessage, pcm, nil
}

func (p *deepgramProtocol) KeepAlive() (int, []byte, error) {
	return websocket.TextMessage, deepgramKeepAlive, nil
}

func (p *deepgramProtocol) Finish() ([]byte, error) {
	return deepgramCloseStream, nil
}

// Decode maps Results to partials, is_final segments and speech_final turn
// ends. UtteranceEnd and the closing Metadata also end the turn.
func (p *deepgramProtocol) Decode(data []byte) (Inbound, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Inbound{}, fmt.Errorf("deepgram: decode: %w", err)
	}

	switch resp.Type {
	case "Results":
		if resp.Channel == nil {
			return Inbound{}, errors.New("deepgram: results without channel")
		}
		var text string
		if len(resp.Channel.Alternatives) > 0 {
			text = resp.Channel.Alternatives[0].Transcript
		}
		switch {
		case resp.SpeechFinal:
			return Inbound{Kind: InboundTurnEnd, Text: text}, nil
		case resp.IsFinal:
			return Inbound{Kind: InboundSegment, Text: text}, nil
		default:
			return Inbound{Kind: InboundPartial, Text: text}, nil
		}

	case "UtteranceEnd", "Metadata":
		return Inbound{Kind: InboundTurnEnd}, nil

	case "SpeechStarted":
		return Inbound{Kind: InboundIgnore}, nil

	case "Error":
		e := deepgramError{Type: resp.Variant, Message: resp.Message, Description: resp.Description}
		if resp.Error != nil {
			e = *resp.Error
		}
		return Inbound{
			Kind: InboundError,
			Err:  apperr.New(apperr.CodeTranscriptionFailed, "read", "deepgram: "+e.text()),
		}, nil

	case "":
		return Inbound{}, errors.New("deepgram: message without type")
	}
	return Inbound{Kind: InboundIgnore}, nil
}

var _ StreamProtocol = (*deepgramProtocol)(nil)
