package transcriber

import (
	"context"
	"fmt"

	"github.com/leonardotrapani/sttbench/internal/language"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// New builds the connection for def. A missing key or unknown adapter does
// not fail here; the connection fails on Start with a fatal error.
func New(def provider.Definition, opts Options) Connection {
	endpoint := def.Endpoint
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}
	model := opts.Model
	if model == "" {
		model = def.DefaultModel
	}
	lang := language.ToProviderFormat(opts.Language, def.Vendor)
	rate := def.SampleRate
	hc := opts.withDefaults().HTTPClient

	var configErr error
	if def.RequiresAPIKey && opts.APIKey == "" {
		configErr = missingKey(def.ID, def.APIKeyEnv)
	}

	var conn interface {
		Connection
		setConfigErr(error)
	}
	switch def.Adapter {
	case provider.AdapterOpenAI:
		up := NewOpenAIUploader(endpoint.URL(), opts.APIKey, model, lang, hc)
		conn = NewUploadConnection(def.ID, up, rate, opts)

	case provider.AdapterDeepgramBatch:
		up := NewDeepgramBatchUploader(endpoint, opts.APIKey, model, lang, hc)
		conn = NewUploadConnection(def.ID, up, rate, opts)

	case provider.AdapterElevenLabs:
		up := NewElevenLabsUploader(endpoint, opts.APIKey, model, lang, def.Diarize, hc)
		conn = NewUploadConnection(def.ID, up, rate, opts)

	case provider.AdapterFasterWhisper:
		up := NewFasterWhisperUploader(endpoint, lang, hc)
		conn = NewUploadConnection(def.ID, up, rate, opts)

	case provider.AdapterRunpod:
		up, err := NewRunpodUploader(endpoint, opts.EndpointID, opts.APIKey, lang, hc)
		if err != nil && configErr == nil {
			configErr = configError(def.ID, err.Error())
		}
		var uploader Uploader = up
		if up == nil {
			uploader = nopUploader{}
		}
		conn = NewUploadConnection(def.ID, uploader, rate, opts)

	case provider.AdapterDeepgram:
		proto := &deepgramProtocol{endpoint: endpoint, apiKey: opts.APIKey, model: model, language: lang, sampleRate: rate}
		conn = NewStreamConnection(def.ID, proto, rate, opts)

	case provider.AdapterElevenLabsStream:
		proto := &elevenLabsProtocol{endpoint: endpoint, apiKey: opts.APIKey, model: model, language: lang, sampleRate: rate}
		conn = NewStreamConnection(def.ID, proto, rate, opts)

	case provider.AdapterOpenAIRealtime:
		proto := newOpenAIRealtimeProtocol(endpoint, opts.APIKey, model, lang, rate)
		conn = NewStreamConnection(def.ID, proto, rate, opts)

	case provider.AdapterOpenAIWebRTC:
		opts.Language = lang
		conn = NewPeerConnection(def.ID, endpoint, model, opts.PeerAPI, opts)

	default:
		conn = NewUploadConnection(def.ID, nopUploader{}, rate, opts)
		configErr = configError(def.ID, fmt.Sprintf("unknown adapter %q", def.Adapter))
	}

	if configErr != nil {
		conn.setConfigErr(configErr)
	}
	return conn
}

func (b *base) setConfigErr(err error) {
	b.configErr = err
}

// nopUploader stands in for a backend that could not be configured; the
// connection fails before it is ever called.
type nopUploader struct{}

func (nopUploader) Transcribe(context.Context, []byte) (UploadResult, error) {
	return UploadResult{}, nil
}
