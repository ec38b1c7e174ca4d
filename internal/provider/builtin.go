package provider

func builtin() []Definition {
	runpod := func(id, name, desc string) Definition {
		return Definition{
			ID:             id,
			Name:           name,
			Vendor:         "runpod",
			Description:    desc,
			Transport:      TransportUpload,
			Adapter:        AdapterRunpod,
			APIKeyEnv:      EnvRunpodKey,
			RequiresAPIKey: true,
			// endpoint id is per deployment and comes from config
			Endpoint:   EndpointConfig{BaseURL: "https://api.runpod.ai/v2", Path: "/{endpoint_id}/runsync"},
			SampleRate: 16000,
			DocsURL:    "https://docs.runpod.io/serverless/endpoints/operation-reference",
		}
	}

	return []Definition{
		{
			ID:             IDOpenAIWhisper,
			Name:           "OpenAI Whisper",
			Vendor:         "openai",
			Description:    "Whisper over the audio transcription endpoint",
			Transport:      TransportUpload,
			Adapter:        AdapterOpenAI,
			Models:         []string{"whisper-1", "gpt-4o-transcribe", "gpt-4o-mini-transcribe"},
			DefaultModel:   "whisper-1",
			APIKeyEnv:      EnvOpenAIKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "https://api.openai.com/v1"},
			SampleRate:     16000,
		},
		{
			ID:             IDGroqWhisper,
			Name:           "Groq Whisper",
			Vendor:         "groq",
			Description:    "Whisper large v3 on Groq, OpenAI-compatible API",
			Transport:      TransportUpload,
			Adapter:        AdapterOpenAI,
			Models:         []string{"whisper-large-v3-turbo", "whisper-large-v3"},
			DefaultModel:   "whisper-large-v3-turbo",
			APIKeyEnv:      EnvGroqKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "https://api.groq.com/openai/v1"},
			SampleRate:     16000,
		},
		{
			ID:             IDDeepgramBatch,
			Name:           "Deepgram Nova (pre-recorded)",
			Vendor:         "deepgram",
			Description:    "Nova models over the pre-recorded REST API",
			Transport:      TransportUpload,
			Adapter:        AdapterDeepgramBatch,
			Models:         []string{"nova-3", "nova-2"},
			DefaultModel:   "nova-3",
			APIKeyEnv:      EnvDeepgramKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "https://api.deepgram.com", Path: "/v1/listen"},
			SampleRate:     16000,
		},
		{
			ID:             IDElevenLabsScribe,
			Name:           "ElevenLabs Scribe",
			Vendor:         "elevenlabs",
			Description:    "Scribe batch transcription with speaker diarization",
			Transport:      TransportUpload,
			Adapter:        AdapterElevenLabs,
			Models:         []string{"scribe_v1", "scribe_v2"},
			DefaultModel:   "scribe_v1",
			APIKeyEnv:      EnvElevenLabsKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "https://api.elevenlabs.io", Path: "/v1/speech-to-text"},
			SampleRate:     16000,
			Diarize:        true,
			DocsURL:        "https://elevenlabs.io/speech-to-text",
		},
		{
			ID:           IDFasterWhisperLocal,
			Name:         "faster-whisper (local)",
			Vendor:       "faster-whisper",
			Description:  "Self-hosted faster-whisper large-v3 server",
			Transport:    TransportUpload,
			Adapter:      AdapterFasterWhisper,
			Models:       []string{"large-v3"},
			DefaultModel: "large-v3",
			Endpoint:     EndpointConfig{BaseURL: "http://localhost:8000", Path: "/transcribe"},
			SampleRate:   16000,
		},
		runpod(IDRunpodKotoba, "Kotoba Whisper (RunPod)", "kotoba-whisper on a RunPod serverless endpoint"),
		runpod(IDRunpodReazon, "ReazonSpeech (RunPod)", "ReazonSpeech NeMo on a RunPod serverless endpoint"),
		runpod(IDRunpodParakeet, "Parakeet TDT ja (RunPod)", "parakeet-tdt-0.6b-ja on a RunPod serverless endpoint"),
		{
			ID:             IDDeepgramNova,
			Name:           "Deepgram Nova (streaming)",
			Vendor:         "deepgram",
			Description:    "Nova models over the live websocket API",
			Transport:      TransportStream,
			Adapter:        AdapterDeepgram,
			Models:         []string{"nova-3", "nova-2"},
			DefaultModel:   "nova-3",
			APIKeyEnv:      EnvDeepgramKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "wss://api.deepgram.com", Path: "/v1/listen"},
			SampleRate:     16000,
		},
		{
			ID:             IDElevenLabsRealtime,
			Name:           "ElevenLabs Scribe Realtime",
			Vendor:         "elevenlabs",
			Description:    "Scribe v2 realtime with VAD commits",
			Transport:      TransportStream,
			Adapter:        AdapterElevenLabsStream,
			Models:         []string{"scribe_v2_realtime"},
			DefaultModel:   "scribe_v2_realtime",
			APIKeyEnv:      EnvElevenLabsKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "wss://api.elevenlabs.io", Path: "/v1/speech-to-text/realtime"},
			SampleRate:     16000,
			DocsURL:        "https://elevenlabs.io/speech-to-text",
		},
		{
			ID:             IDOpenAIRealtime,
			Name:           "OpenAI Realtime (websocket)",
			Vendor:         "openai",
			Description:    "Realtime API in transcription mode",
			Transport:      TransportStream,
			Adapter:        AdapterOpenAIRealtime,
			Models:         []string{"gpt-4o-transcribe", "gpt-4o-mini-transcribe", "whisper-1"},
			DefaultModel:   "gpt-4o-transcribe",
			APIKeyEnv:      EnvOpenAIKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "wss://api.openai.com", Path: "/v1/realtime"},
			SampleRate:     24000,
		},
		{
			ID:             IDOpenAIWebRTC,
			Name:           "OpenAI Realtime (WebRTC)",
			Vendor:         "openai",
			Description:    "Realtime API over a peer connection, events on the oai-events channel",
			Transport:      TransportPeer,
			Adapter:        AdapterOpenAIWebRTC,
			Models:         []string{"gpt-4o-realtime-preview", "gpt-4o-mini-realtime-preview"},
			DefaultModel:   "gpt-4o-realtime-preview",
			APIKeyEnv:      EnvOpenAIKey,
			RequiresAPIKey: true,
			Endpoint:       EndpointConfig{BaseURL: "https://api.openai.com", Path: "/v1/realtime"},
			SampleRate:     8000,
		},
	}
}
