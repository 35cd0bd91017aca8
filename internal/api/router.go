package api

import (
	"context"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/codenamespivey12/MojoCode/internal/auth"
	"github.com/codenamespivey12/MojoCode/internal/metrics"
	limiter "github.com/codenamespivey12/MojoCode/internal/ratelimit"
)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Handler        *Handler
	Validator      *auth.Validator
	LimitStore     ratelimit.Store
	AllowedOrigins []string
	Health         map[string]Pinger
	Logger         zerolog.Logger
}

// NewRouter builds the gin engine with the full middleware stack.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger), metrics.Middleware())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthCheck(cfg.Health))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	cfg.Handler.RegisterRoutes(router, cfg.Validator, cfg.LimitStore)
	return router
}

// RegisterRoutes attaches the authenticated API routes. Writes are rate limited per user.
func (h *Handler) RegisterRoutes(router *gin.Engine, validator *auth.Validator, store ratelimit.Store) {
	api := router.Group("/api")
	api.Use(validator.Middleware(), validator.CSRFMiddleware())

	limit := func(c *gin.Context) { c.Next() }
	if store != nil {
		limit = limiter.Middleware(store)
	}

	api.GET("/conversations", h.listConversations)
	api.POST("/conversations", limit, h.createConversation)
	api.GET("/conversations/:id", h.getConversation)
	api.PATCH("/conversations/:id", limit, h.updateConversation)
	api.DELETE("/conversations/:id", limit, h.deleteConversation)
	api.POST("/conversations/:id/messages", limit, h.addMessage)
	api.GET("/stats", h.getStats)
}

func healthCheck(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(gin.H, len(deps))
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}
		if userID, ok := auth.UserIDFromContext(c); ok {
			event = event.Str("user_id", userID)
		}
		event.
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
