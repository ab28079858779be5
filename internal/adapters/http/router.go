package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/talkie/internal/adapters/signal"
	"github.com/dkeye/talkie/internal/app/orch"
	"github.com/dkeye/talkie/internal/config"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxHistoryLimit = 200

type Deps struct {
	Orch     *orch.Orchestrator
	Signal   *signal.SignalWSController
	Verifier core.IdentityVerifier
	Metrics  *metrics.Metrics
}

// MetricsMiddleware records request count and latency per route template.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// AuthMiddleware resolves the bearer credential into a user id.
func AuthMiddleware(v core.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.Verify(signal.BearerToken(c.Request))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set("user_id", user)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(MetricsMiddleware(d.Metrics))

	log.Info().Str("module", "adapters.http").Bool("metrics", cfg.Metrics.Enabled).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": d.Orch.Registry.Len(),
			"calls":       d.Orch.Signals.Sessions(),
			"chatLanes":   d.Orch.Chat.ActiveLanes(),
		})
	})
	if cfg.Metrics.Enabled && d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	api := r.Group("/api")

	ws := func(c *gin.Context) { d.Signal.HandleSignal(ctx, c) }
	api.GET("/ws", ws)
	api.GET("/ws/signal", ws)

	chats := api.Group("/chats", AuthMiddleware(d.Verifier))
	chats.GET("/:chatId/messages", listMessages(d.Orch))

	return r
}

func listMessages(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user_id").(domain.UserID)
		room := domain.RoomID(c.Param("chatId"))

		limit := 0
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 || n > maxHistoryLimit {
				abortWithError(c, core.Malformed("invalid limit", err))
				return
			}
			limit = n
		}
		var before time.Time
		if s := c.Query("before"); s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				abortWithError(c, core.Malformed("invalid before", err))
				return
			}
			before = t
		}

		msgs, err := o.Chat.History(c.Request.Context(), user, room, limit, before)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, protocol.Messages{Type: protocol.OutMessages, ChatID: room, Messages: msgs})
	}
}

func statusOf(kind core.Kind) int {
	switch kind {
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindAuthorization:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindMalformed:
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func abortWithError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	if kind == core.KindDependency {
		log.Error().Str("module", "adapters.http").Str("path", c.FullPath()).Err(err).Msg("request failed")
	}
	c.AbortWithStatusJSON(statusOf(kind), gin.H{
		"type":    protocol.OutError,
		"kind":    kind,
		"message": core.MessageOf(err),
	})
}
