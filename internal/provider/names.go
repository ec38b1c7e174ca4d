package provider

// Provider ids
const (
	IDOpenAIWhisper      = "openai-whisper"
	IDGroqWhisper        = "groq-whisper"
	IDDeepgramBatch      = "deepgram-batch"
	IDElevenLabsScribe   = "elevenlabs-scribe"
	IDFasterWhisperLocal = "faster-whisper-local"
	IDRunpodKotoba       = "runpod-kotoba-whisper"
	IDRunpodReazon       = "runpod-reazonspeech"
	IDRunpodParakeet     = "runpod-parakeet"
	IDDeepgramNova       = "deepgram-nova"
	IDElevenLabsRealtime = "elevenlabs-realtime"
	IDOpenAIRealtime     = "openai-realtime"
	IDOpenAIWebRTC       = "openai-webrtc"
)

// Environment variable names for API keys
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvGroqKey       = "GROQ_API_KEY"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvDeepgramKey   = "DEEPGRAM_API_KEY"
	EnvRunpodKey     = "RUNPOD_API_KEY"
)

// Adapter type constants for transcription backends
const (
	AdapterOpenAI           = "openai"
	AdapterDeepgramBatch    = "deepgram-batch"
	AdapterElevenLabs       = "elevenlabs"
	AdapterFasterWhisper    = "faster-whisper"
	AdapterRunpod           = "runpod"
	AdapterDeepgram         = "deepgram"
	AdapterElevenLabsStream = "elevenlabs-streaming"
	AdapterOpenAIRealtime   = "openai-realtime"
	AdapterOpenAIWebRTC     = "openai-webrtc"
)

// DefaultEnabled is the provider set used when the config names none.
var DefaultEnabled = []string{IDOpenAIWhisper, IDDeepgramNova, IDElevenLabsRealtime}
