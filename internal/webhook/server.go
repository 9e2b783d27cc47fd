// Package webhook serves the platform webhooks and the task API over HTTP.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/orchestrator"
	"github.com/zulandar/convoy/internal/tracker"
	"go.uber.org/zap"
)

// Orchestrator handles conversation-level webhooks and controls.
type Orchestrator interface {
	ProcessContentEvent(ctx context.Context, accountID string, ev orchestrator.ContentEvent) (orchestrator.Outcome, error)
	HandleStateChange(ctx context.Context, accountID string, ev orchestrator.StateChangeEvent) error
	Pause(ctx context.Context, accountID, conversationID string) error
	Resume(ctx context.Context, accountID, conversationID string) error
}

// Tracker handles the task API.
type Tracker interface {
	StartTask(ctx context.Context, task *models.Task) ([]string, error)
	GetTask(ctx context.Context, accountID, requestID string) (*models.Task, error)
	GetTaskProgress(ctx context.Context, task *models.Task) (tracker.Progress, error)
	CancelTask(ctx context.Context, accountID, requestID string) (*models.Task, error)
	MarkCompleted(ctx context.Context, accountID, requestID string) (*models.Task, error)
}

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Convoy-Secret"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Opts holds configuration for the HTTP server.
type Opts struct {
	Orchestrator Orchestrator
	Tracker      Tracker
	Logger       *zap.Logger
	// Secret, when set, must be presented in SecretHeader on every
	// webhook and API request.
	Secret        string
	RatePerSecond float64 // per client IP; 0 disables limiting
	RateBurst     int
	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the convoy HTTP front end.
type Server struct {
	orch    Orchestrator
	tracker Tracker
	log     *zap.Logger
	router  *gin.Engine
}

// New builds the router. Orchestrator and tracker are required.
func New(opts Opts) (*Server, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("webhook: orchestrator is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("webhook: tracker is required")
	}

	s := &Server{
		orch:    opts.Orchestrator,
		tracker: opts.Tracker,
		log:     logging.OrNop(opts.Logger),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log), limitBody(maxBodyBytes))
	if opts.RatePerSecond > 0 {
		router.Use(newIPLimiter(opts.RatePerSecond, opts.RateBurst).middleware())
	}
	registerRoutes(router, s, opts)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr. It blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("webhook server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
