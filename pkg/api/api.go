package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/config"
	"github.com/telekom/trustcore/pkg/metrics"
	"github.com/telekom/trustcore/pkg/ratelimit"
	"github.com/telekom/trustcore/pkg/subscription"
	"github.com/telekom/trustcore/pkg/system"
	"github.com/telekom/trustcore/pkg/tracing"
	"github.com/telekom/trustcore/pkg/trust"
	"github.com/telekom/trustcore/pkg/version"
)

const (
	// RequestIDHeader carries the caller's request id into the request trace.
	RequestIDHeader = "X-Request-ID"
	// TraceIDHeader is set on every response.
	TraceIDHeader = "X-Trace-ID"
	// SubscriberHeader names the budget a poll is charged to. The client IP is
	// used when it is absent.
	SubscriberHeader = "X-Subscriber-ID"

	shutdownTimeout = 10 * time.Second
)

// Server is the read-only HTTP surface over a trust service.
type Server struct {
	gin         *gin.Engine
	config      config.Server
	trust       *trust.Service
	subscribers *subscription.Subscriber
	rateLimiter *ratelimit.KeyedRateLimiter
	log         *zap.Logger
}

// NewServer wires routes and middleware. Call Close to release the rate limiter.
func NewServer(log *zap.Logger, cfg config.Server, svc *trust.Service, subs *subscription.Subscriber, debug bool) (*Server, error) {
	if svc == nil || subs == nil {
		return nil, errors.New("api: trust service and subscriber are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	s := &Server{
		gin:         engine,
		config:      cfg,
		trust:       svc,
		subscribers: subs,
		rateLimiter: ratelimit.New(cfg.RateLimit),
		log:         log.Named("api"),
	}

	engine.Use(s.requestTrace(), s.rateLimiter.MiddlewareWithExclusions([]string{"/healthz", "/metrics"}))

	engine.GET("/healthz", s.getHealthz)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	r := engine.Group("api")
	r.GET("/audit/events", s.getAuditEvents)
	r.GET("/health/circuits", s.getCircuits)
	r.GET("/policy/effective", s.getEffectivePolicy)

	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("address", s.config.ListenAddress))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// requestTrace starts a root trace per request, binds it to the request
// context and stores a request logger carrying its identifiers.
func (s *Server) requestTrace() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc := tracing.NewRoot(c.GetHeader(RequestIDHeader), "", nil)
		c.Request = c.Request.WithContext(tracing.WithTrace(c.Request.Context(), tc))
		c.Set(system.ReqLoggerKey, s.log.With(tc.ZapFields()...))
		c.Header(TraceIDHeader, tc.TraceID)
		c.Next()
	}
}

func (s *Server) getHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}
