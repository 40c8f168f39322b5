// Package ops exposes a small operational HTTP surface next to the bot:
// liveness for the deployment and the role statistics as JSON.
package ops

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/europython/discord-bot/config"
	"github.com/europython/discord-bot/internal/discord"
	"github.com/europython/discord-bot/internal/middleware"
	"github.com/europython/discord-bot/pkg/response"
)

// StatsSource yields the per-role member counts.
type StatsSource interface {
	Report() ([]discord.RoleCount, error)
}

// NewServer builds the ops HTTP server.
func NewServer(cfg config.OpsConfig, stats StatsSource, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "not found")
	})
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/stats", func(c *gin.Context) {
		counts, err := stats.Report()
		if err != nil {
			logger.Error("collect stats", zap.Error(err))
			response.ServiceUnavailable(c, "guild statistics unavailable")
			return
		}
		response.OK(c, gin.H{"roles": counts})
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
}
