// Package api exposes members, libraries, requests and exchanges over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bookswap/internal/exchange"
	"bookswap/internal/matcher"
	"bookswap/internal/storage"
	"bookswap/internal/validation"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Storage   storage.Storage
	Matcher   *matcher.Matcher
	Lifecycle *exchange.Lifecycle
	Logger    *zap.Logger
	Gatherer  prometheus.Gatherer // nil disables /metrics
}

type handlers struct {
	db        storage.Storage
	matcher   *matcher.Matcher
	lifecycle *exchange.Lifecycle
	logger    *zap.Logger
	v         *validatorv10.Validate
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &handlers{
		db:        cfg.Storage,
		matcher:   cfg.Matcher,
		lifecycle: cfg.Lifecycle,
		logger:    cfg.Logger,
		v:         validation.New(),
	}
	h.registerMembers(r)
	h.registerRequests(r)
	h.registerExchanges(r)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
