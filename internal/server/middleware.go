package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
)

// rateLimit admits requests of class per client IP before the handler does
// any work. A failing limiter store lets the request through.
func rateLimit(l *ratelimit.Limiter, class ratelimit.Class) gin.HandlerFunc {
	log := logging.WithComponent("server")
	return func(c *gin.Context) {
		res, err := l.Allow(c.Request.Context(), class, c.ClientIP())
		var rl *apperr.RateLimitError
		switch {
		case errors.As(err, &rl):
			respondRateLimited(c, rl)
			return
		case err != nil:
			log.Warn().Err(err).Str("class", string(class)).Msg("server: rate limiter unavailable, admitting request")
		case res.Limit > 0:
			setRateLimitHeaders(c, res)
		}
		c.Next()
	}
}
