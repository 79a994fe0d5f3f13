package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jwalitptl/queue-api/internal/handler"
	authhandler "github.com/jwalitptl/queue-api/internal/handler/auth"
	depthandler "github.com/jwalitptl/queue-api/internal/handler/department"
	streamhandler "github.com/jwalitptl/queue-api/internal/handler/stream"
	tokenhandler "github.com/jwalitptl/queue-api/internal/handler/token"
	visithandler "github.com/jwalitptl/queue-api/internal/handler/visit"
	"github.com/jwalitptl/queue-api/internal/middleware"
)

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	authH   *authhandler.Handler
	tokenH  *tokenhandler.Handler
	deptH   *depthandler.Handler
	visitH  *visithandler.Handler
	streamH *streamhandler.Handler
	h       *handler.Handler
	metrics *routerMetrics
	config  RouterConfig
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	CORSConfig     middleware.CORSConfig
	MetricsPrefix  string
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	authH *authhandler.Handler,
	tokenH *tokenhandler.Handler,
	deptH *depthandler.Handler,
	visitH *visithandler.Handler,
	streamH *streamhandler.Handler,
	h *handler.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	r := &Router{
		engine:  engine,
		auth:    auth,
		authH:   authH,
		tokenH:  tokenH,
		deptH:   deptH,
		visitH:  visitH,
		streamH: streamH,
		h:       h,
		metrics: initRouterMetrics(config.MetricsPrefix),
		config:  config,
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
	)

	engine.Use(middleware.CORS(config.CORSConfig))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   config.RateLimitRPS,
		Burst: config.RateLimitBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.setupHealthCheck(api)

	timeout := middleware.Timeout(r.config.RequestTimeout)

	// Public routes
	public := api.Group("", timeout)
	r.authH.RegisterRoutes(public)

	// Protected routes
	protected := api.Group("", timeout, r.auth.Authenticate())
	r.authH.RegisterProtectedRoutes(protected)
	r.tokenH.RegisterRoutes(protected, r.auth)
	r.deptH.RegisterRoutes(protected, r.auth)
	r.visitH.RegisterRoutes(protected, r.auth)

	// SSE streams hold their connection open, so no request timeout here.
	streams := api.Group("", r.auth.Authenticate())
	r.streamH.RegisterRoutes(streams, r.auth)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
	}
	rg.GET("/metrics", r.h.MetricsHandler)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "http").Inc()
		}
	}
}
