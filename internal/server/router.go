// Package server exposes the benchmark over HTTP: one-shot transcription of
// uploaded files, offline evaluation, stored session lookup and metrics.
package server

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/events"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/orchestrator"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
	"github.com/leonardotrapani/sttbench/internal/store"
	"github.com/leonardotrapani/sttbench/internal/tracing"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

// Options wires the router to the rest of the process.
type Options struct {
	// Config returns the current configuration snapshot.
	Config    func() *config.Config
	Limiter   *ratelimit.Limiter
	Store     store.Store
	Factory   orchestrator.Factory
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	// LiveSessions reports sessions running outside the API, such as the
	// daemon's capture session.
	LiveSessions func() int
}

// Build constructs the gin engine with logging, recovery, tracing and CORS
// middlewares and registers the /v1 routes.
func Build(opts Options) (*gin.Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("http router requires config")
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(nil, ratelimit.DefaultPolicies())
	}
	if opts.Factory == nil {
		opts.Factory = transcriber.New
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	cfg := opts.Config()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logging.WithComponent("server")))
	engine.Use(tracingMiddleware())

	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		engine.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	}

	h := &handlers{opts: opts, log: logging.WithComponent("server")}
	api := engine.Group("/v1")
	api.GET("/health", rateLimit(opts.Limiter, ratelimit.ClassHealth), h.health)
	api.POST("/transcribe", rateLimit(opts.Limiter, ratelimit.ClassTranscribe), h.transcribe)
	api.POST("/evaluate", rateLimit(opts.Limiter, ratelimit.ClassEvaluate), h.evaluate)
	api.GET("/sessions", rateLimit(opts.Limiter, ratelimit.ClassHealth), h.listSessions)
	api.GET("/sessions/:id", rateLimit(opts.Limiter, ratelimit.ClassHealth), h.getSession)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	return engine, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", headerLimit, headerRemaining, headerReset},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("server: request")
	}
}

func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		ctx, span := tracing.Start(c.Request.Context(), "http.server",
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", path),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		var spanErr error
		if len(c.Errors) > 0 {
			spanErr = c.Errors.Last().Err
		} else if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("status %d", status)
		}
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		tracing.End(span, spanErr)
	}
}
