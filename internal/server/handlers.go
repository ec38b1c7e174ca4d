package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/language"
	"github.com/leonardotrapani/sttbench/internal/pipeline"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/store"
)

type handlers struct {
	opts   Options
	log    zerolog.Logger
	active atomic.Int64
}

// HealthResponse reports liveness and the enabled providers.
type HealthResponse struct {
	Status    string           `json:"status"`
	Providers []ProviderHealth `json:"providers"`
	Sessions  int              `json:"sessions"`
}

type ProviderHealth struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Transport     provider.Transport `json:"transport"`
	KeyConfigured bool               `json:"keyConfigured"`
}

// EvaluateRequest scores hypotheses offline. Reference is either a plain
// string, an entry list or a {title, entries} document.
type EvaluateRequest struct {
	Reference  json.RawMessage   `json:"reference"`
	Hypotheses map[string]string `json:"hypotheses"`
}

func (h *handlers) health(c *gin.Context) {
	cfg := h.opts.Config()
	providers := make([]ProviderHealth, 0, len(cfg.Session.Providers))
	for _, id := range cfg.Session.Providers {
		def, ok := provider.Get(id)
		if !ok {
			continue
		}
		providers = append(providers, ProviderHealth{
			ID:            def.ID,
			Name:          def.Name,
			Transport:     def.Transport,
			KeyConfigured: !def.RequiresAPIKey || cfg.ResolveAPIKey(def.ID) != "",
		})
	}

	sessions := int(h.active.Load())
	if h.opts.LiveSessions != nil {
		sessions += h.opts.LiveSessions()
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Providers: providers, Sessions: sessions})
}

// transcribe runs one batched session over an uploaded media file and
// answers with the finished result.
func (h *handlers) transcribe(c *gin.Context) {
	cfg := h.opts.Config()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxUploadBytes())

	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Code:    apperr.CodeFileDecodeError,
				Message: fmt.Sprintf("upload exceeds %d MB", cfg.Server.MaxUploadMB),
			})
			return
		}
		respondBadRequest(c, "multipart field 'audio' is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeFileDecodeError, "server.transcribe", "open upload", err))
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeFileDecodeError, "server.transcribe", "read upload", err))
		return
	}

	ids := splitList(c.PostForm("providers"))
	if len(ids) == 0 {
		ids = cfg.Session.Providers
	}
	lang := c.DefaultPostForm("language", cfg.Session.Language)
	if !language.IsValidCode(lang) {
		respondBadRequest(c, fmt.Sprintf("unsupported language %q", lang))
		return
	}
	var ref *evaluation.Reference
	if text := strings.TrimSpace(c.PostForm("reference")); text != "" {
		ref = evaluation.PlainReference(text)
	}

	sess := session.New(lang, ids, ref)
	targets, err := cfg.Targets(sess.ID, lang, ids)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	src := recording.NewFileSource(recording.FileConfig{
		Cadence:           pipeline.SourceCadence(targets, cfg.Audio.FrameInterval, cfg.Audio.ChunkInterval),
		Reader:            bytes.NewReader(data),
		ChannelBufferSize: cfg.Audio.ChannelBufferSize,
	})
	if err := src.Arm(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	orchCfg := cfg.ToOrchestratorConfig(sess.ID)
	orchCfg.Metrics = h.opts.Metrics
	p := pipeline.New(pipeline.Config{
		Session:      sess,
		Source:       src,
		Targets:      targets,
		Orchestrator: orchCfg,
		Factory:      h.opts.Factory,
		Publisher:    h.opts.Publisher,
		Store:        h.opts.Store,
		Timeout:      cfg.Server.RequestTimeout,
	})

	h.active.Add(1)
	defer h.active.Add(-1)
	p.Run(c.Request.Context())
	<-p.Done()

	res, err := p.Result()
	if res.Metadata.SessionID == "" {
		if err == nil {
			err = apperr.New(apperr.CodeTranscriptionFailed, "server.transcribe", "session produced no result")
		}
		respondError(c, err)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Str("session", sess.ID).Msg("server: session finished with error")
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	ref, err := parseReference(req.Reference)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if len(req.Hypotheses) == 0 {
		respondBadRequest(c, "hypotheses must not be empty")
		return
	}
	c.JSON(http.StatusOK, evaluation.Evaluate(ref.Text(), req.Hypotheses))
}

func (h *handlers) listSessions(c *gin.Context) {
	list, err := h.opts.Store.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) getSession(c *gin.Context) {
	res, err := h.opts.Store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: apperr.CodeNotReady, Message: err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseReference(raw json.RawMessage) (*evaluation.Reference, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("reference is required")
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("invalid reference: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, errors.New("reference is required")
		}
		return evaluation.PlainReference(text), nil
	}
	ref, err := evaluation.ParseReference(trimmed, "json")
	if err != nil {
		return nil, fmt.Errorf("invalid reference: %w", err)
	}
	if strings.TrimSpace(ref.Text()) == "" {
		return nil, errors.New("reference is required")
	}
	return ref, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
