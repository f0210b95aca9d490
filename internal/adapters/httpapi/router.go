// Package httpapi is the local control surface: a small gin API for
// inspecting and nudging the session, plus prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/session"
)

// Session is the slice of the coordinator the API needs.
type Session interface {
	Snapshot() session.Snapshot
	LeaveRoom(ctx context.Context) error
	ManualRetry(ctx context.Context) error
}

// RequestIDMiddleware tags every request, honoring an id the caller
// already chose.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func SetupRouter(mode string, sess Session, gatherer prometheus.Gatherer) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	api.GET("/peers", func(c *gin.Context) {
		snap := sess.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"self":   snap.Self,
			"hostId": snap.HostID,
			"peers":  snap.Peers,
			"count":  snap.PeerCount,
		})
	})

	api.POST("/leave", func(c *gin.Context) {
		if err := sess.LeaveRoom(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "left"})
	})

	api.POST("/retry", func(c *gin.Context) {
		err := sess.ManualRetry(c.Request.Context())
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "reconnected"})
		case errors.Is(err, session.ErrRetryUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
	})

	return r
}
