package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// setupRoutes builds the gin engine with every HTTP route.
func (a *App) setupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.log.Named("http")))

	if origins := a.origins.corsOrigins(); len(origins) > 0 || a.origins.allowAll {
		cfg := cors.Config{
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}
		if a.origins.allowAll {
			cfg.AllowAllOrigins = true
		} else {
			cfg.AllowOrigins = origins
		}
		router.Use(cors.New(cfg))
	}

	router.GET("/", a.handleHealth)
	router.GET("/health", a.handleHealth)
	router.GET("/ws", a.handleWebSocket)
	router.GET("/messages", a.handleMessages)

	api := router.Group("/api")
	api.GET("/messages", a.handleMessages)
	api.GET("/user", a.handleNewUser)
	api.GET("/vapid-public-key", a.handleVAPIDPublicKey)
	api.POST("/subscribe", a.handleSubscribe)
	api.DELETE("/subscribe/:userId", a.handleUnsubscribe)
	api.GET("/presence", a.handlePresence)

	if a.cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	return router
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
