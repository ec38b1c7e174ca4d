package transcriber

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/provider"
)

// OpenAIUploader uses the audio transcription endpoint. Groq serves the same
// API under its own base URL.
type OpenAIUploader struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAIUploader(baseURL, apiKey, model, lang string, hc *http.Client) *OpenAIUploader {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &OpenAIUploader{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: lang,
	}
}

func (u *OpenAIUploader) Transcribe(ctx context.Context, wav []byte) (UploadResult, error) {
	resp, err := u.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    u.model,
		Reader:   bytes.NewReader(wav),
		FilePath: "chunk.wav",
		Language: u.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return UploadResult{}, requestError("openai transcription", err)
	}
	return UploadResult{Text: resp.Text}, nil
}

// DeepgramBatchUploader posts WAV to the pre-recorded API.
type DeepgramBatchUploader struct {
	client   *http.Client
	endpoint provider.EndpointConfig
	apiKey   string
	model    string
	language string
}

type deepgramBatchResponse struct {
	Results *struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results,omitempty"`
	Error *deepgramError `json:"error,omitempty"`
}

func NewDeepgramBatchUploader(endpoint provider.EndpointConfig, apiKey, model, lang string, hc *http.Client) *DeepgramBatchUploader {
	return &DeepgramBatchUploader{client: hc, endpoint: endpoint, apiKey: apiKey, model: model, language: lang}
}

func (u *DeepgramBatchUploader) Transcribe(ctx context.Context, wav []byte) (UploadResult, error) {
	apiURL, err := url.Parse(u.endpoint.URL())
	if err != nil {
		return UploadResult{}, NewFatalError(fmt.Errorf("parse deepgram url: %w", err))
	}
	q := apiURL.Query()
	q.Set("model", u.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if u.language != "" {
		q.Set("language", u.language)
	}
	apiURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL.String(), bytes.NewReader(wav))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+u.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	var result deepgramBatchResponse
	if err := doJSON(u.client, req, "deepgram", &result); err != nil {
		return UploadResult{}, err
	}
	if result.Error != nil {
		return UploadResult{}, apperr.New(apperr.CodeTranscriptionFailed, "deepgram", result.Error.Message)
	}
	if result.Results == nil || len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return UploadResult{}, nil
	}
	return UploadResult{Text: result.Results.Channels[0].Alternatives[0].Transcript}, nil
}

// ElevenLabsUploader posts a multipart form to Scribe. With diarization on,
// multi-speaker chunks come back as "[speaker_N] text" segments.
type ElevenLabsUploader struct {
	client   *http.Client
	endpoint provider.EndpointConfig
	apiKey   string
	model    string
	language string
	diarize  bool
}

type elevenLabsResponse struct {
	Text         string           `json:"text"`
	LanguageCode string           `json:"language_code"`
	Words        []elevenLabsWord `json:"words"`
}

type elevenLabsWord struct {
	Text      string `json:"text"`
	Type      string `json:"type"` // word, spacing, audio_event
	SpeakerID string `json:"speaker_id"`
}

func NewElevenLabsUploader(endpoint provider.EndpointConfig, apiKey, model, lang string, diarize bool, hc *http.Client) *ElevenLabsUploader {
	return &ElevenLabsUploader{client: hc, endpoint: endpoint, apiKey: apiKey, model: model, language: lang, diarize: diarize}
}

func (u *ElevenLabsUploader) Transcribe(ctx context.Context, wav []byte) (UploadResult, error) {
	fields := map[string]string{"model_id": u.model}
	if u.language != "" {
		fields["language_code"] = u.language
	}
	if u.diarize {
		fields["diarize"] = "true"
	}
	body, contentType, err := multipartBody("file", "chunk.wav", wav, fields)
	if err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint.URL(), body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", u.apiKey)

	var result elevenLabsResponse
	if err := doJSON(u.client, req, "elevenlabs", &result); err != nil {
		return UploadResult{}, err
	}
	text, speaker := result.labelled()
	return UploadResult{Text: text, Speaker: speaker}, nil
}

// labelled returns the text and its speaker. Chunks with several speakers
// are prefixed per turn and carry no single speaker.
func (r elevenLabsResponse) labelled() (string, string) {
	type turn struct {
		speaker string
		text    strings.Builder
	}
	var turns []*turn
	for _, w := range r.Words {
		if w.Type == "audio_event" {
			continue
		}
		if len(turns) == 0 || (w.SpeakerID != "" && turns[len(turns)-1].speaker != w.SpeakerID) {
			turns = append(turns, &turn{speaker: w.SpeakerID})
		}
		turns[len(turns)-1].text.WriteString(w.Text)
	}

	switch len(turns) {
	case 0:
		return r.Text, ""
	case 1:
		return r.Text, turns[0].speaker
	}
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.text.String())
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", t.speaker, text))
	}
	return strings.Join(parts, " "), ""
}

// FasterWhisperUploader talks to the self-hosted faster-whisper server.
type FasterWhisperUploader struct {
	client   *http.Client
	endpoint provider.EndpointConfig
	language string
}

type fasterWhisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

func NewFasterWhisperUploader(endpoint provider.EndpointConfig, lang string, hc *http.Client) *FasterWhisperUploader {
	return &FasterWhisperUploader{client: hc, endpoint: endpoint, language: lang}
}

func (u *FasterWhisperUploader) Transcribe(ctx context.Context, wav []byte) (UploadResult, error) {
	fields := map[string]string{}
	if u.language != "" {
		fields["language"] = u.language
	}
	body, contentType, err := multipartBody("audio", "chunk.wav", wav, fields)
	if err != nil {
		return UploadResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint.URL(), body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var result fasterWhisperResponse
	if err := doJSON(u.client, req, "faster-whisper", &result); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Text: result.Text}, nil
}

// RunpodUploader calls a serverless handler synchronously through /runsync.
type RunpodUploader struct {
	client   *http.Client
	url      string
	apiKey   string
	language string
}

type runpodRequest struct {
	Input runpodInput `json:"input"`
}

type runpodInput struct {
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language,omitempty"`
	Task        string `json:"task"`
}

type runpodResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Output *struct {
		Transcription string `json:"transcription"`
		Error         string `json:"error"`
		Model         string `json:"model"`
	} `json:"output,omitempty"`
}

// NewRunpodUploader resolves the {endpoint_id} placeholder of the endpoint path.
func NewRunpodUploader(endpoint provider.EndpointConfig, endpointID, apiKey, lang string, hc *http.Client) (*RunpodUploader, error) {
	raw := endpoint.URL()
	if strings.Contains(raw, "{endpoint_id}") {
		if endpointID == "" {
			return nil, fmt.Errorf("runpod endpoint_id is not configured")
		}
		raw = strings.ReplaceAll(raw, "{endpoint_id}", url.PathEscape(endpointID))
	}
	return &RunpodUploader{client: hc, url: raw, apiKey: apiKey, language: lang}, nil
}

func (u *RunpodUploader) Transcribe(ctx context.Context, wav []byte) (UploadResult, error) {
	payload, err := json.Marshal(runpodRequest{Input: runpodInput{
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
		Language:    u.language,
		Task:        "transcribe",
	}})
	if err != nil {
		return UploadResult{}, fmt.Errorf("marshal runpod request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(payload))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var result runpodResponse
	if err := doJSON(u.client, req, "runpod", &result); err != nil {
		return UploadResult{}, err
	}

	switch {
	case result.Output != nil && result.Output.Error != "":
		return UploadResult{}, apperr.New(apperr.CodeTranscriptionFailed, "runpod", result.Output.Error)
	case result.Error != "":
		return UploadResult{}, apperr.New(apperr.CodeTranscriptionFailed, "runpod", result.Error)
	case result.Status != "" && result.Status != "COMPLETED":
		// runsync returns early when the worker is still cold
		return UploadResult{}, apperr.New(apperr.CodeServerUnavailable, "runpod", "job "+result.ID+" is "+result.Status)
	case result.Output == nil:
		return UploadResult{}, nil
	}
	return UploadResult{Text: result.Output.Transcription}, nil
}

func multipartBody(field, filename string, data []byte, fields map[string]string) (io.Reader, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// doJSON sends req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, op string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return requestError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.CodeTranscriptionFailed, op, "malformed response", err)
	}
	return nil
}
