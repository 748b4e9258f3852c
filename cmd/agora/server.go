package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bluesky-social/agora/feed"
	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/outbox"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
)

type ServerConfig struct {
	Bind string

	// DID of this feed generator service, served in did.json
	ServiceDID string
	Hostname   string

	// requests per second and burst, per client
	VoterRateLimit float64
	VoterBurst     int
	AdminRateLimit float64
	AdminBurst     int

	SchedulerInterval time.Duration
	RequestTimeout    time.Duration
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Bind:              ":3200",
		VoterRateLimit:    2,
		VoterBurst:        5,
		AdminRateLimit:    0.5,
		AdminBurst:        2,
		SchedulerInterval: governance.DefaultSchedulerInterval,
		RequestTimeout:    10 * time.Second,
	}
}

// the collectors are registered globally, so every server shares one middleware
var metricsMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("agora")
})

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
	config ServerConfig

	c         *components
	feed      *feed.Service
	auth      *Auth
	scheduler *governance.Scheduler
	outbox    *outbox.Worker
}

func NewServer(c *components, fs *feed.Service, auth *Auth, ob *outbox.Worker, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	e := echo.New()
	srv := &Server{
		echo:      e,
		logger:    c.logger.With("system", "server"),
		config:    *config,
		c:         c,
		feed:      fs,
		auth:      auth,
		scheduler: governance.NewScheduler(c.mgr, config.SchedulerInterval),
		outbox:    ob,
	}
	srv.httpd = &http.Server{
		Handler:        srv.echo,
		Addr:           config.Bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(slogecho.New(srv.logger))
	e.Use(middleware.Recover())
	e.Use(metricsMiddleware())
	e.Use(otelecho.Middleware("agora"))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	srv.registerRoutes()
	return srv
}

func (srv *Server) registerRoutes() {
	e := srv.echo
	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	e.GET("/.well-known/did.json", srv.HandleWellKnownDID)
	e.GET("/xrpc/app.bsky.feed.describeFeedGenerator", srv.HandleDescribeFeedGenerator)
	e.GET("/xrpc/app.bsky.feed.getFeedSkeleton", srv.HandleGetFeedSkeleton)

	e.GET("/xrpc/social.agora.transparency.getEpoch", srv.HandleGetEpoch)
	e.GET("/xrpc/social.agora.transparency.explainPost", srv.HandleExplainPost)
	e.GET("/xrpc/social.agora.transparency.getStats", srv.HandleGetStats)
	e.GET("/xrpc/social.agora.transparency.whatIf", srv.HandleWhatIf)
	e.GET("/xrpc/social.agora.transparency.getAuditLog", srv.HandleGetAuditLog)

	voter := []echo.MiddlewareFunc{srv.auth.RequireVoter, rateLimit(srv.config.VoterRateLimit, srv.config.VoterBurst)}
	e.POST("/xrpc/social.agora.vote.cast", srv.HandleCastVote, voter...)
	e.GET("/xrpc/social.agora.vote.get", srv.HandleGetVote, voter...)

	admin := []echo.MiddlewareFunc{srv.auth.RequireAdmin, rateLimit(srv.config.AdminRateLimit, srv.config.AdminBurst)}
	e.POST("/admin/epoch/startVoting", srv.HandleStartVoting, admin...)
	e.POST("/admin/epoch/endVoting", srv.HandleEndVoting, admin...)
	e.POST("/admin/epoch/approve", srv.HandleApprove, admin...)
	e.POST("/admin/epoch/reject", srv.HandleReject, admin...)
	e.POST("/admin/epoch/force", srv.HandleForce, admin...)
	e.POST("/admin/epoch/schedule", srv.HandleSchedule, admin...)
	e.POST("/admin/epoch/cancelSchedule", srv.HandleCancelSchedule, admin...)
	e.POST("/admin/weights", srv.HandleOverrideWeights, admin...)
	e.POST("/admin/rules/add", srv.HandleAddRule, admin...)
	e.POST("/admin/rules/remove", srv.HandleRemoveRule, admin...)
	e.POST("/admin/pin", srv.HandleSetPin, admin...)
	e.DELETE("/admin/pin", srv.HandleClearPin, admin...)
	e.GET("/admin/audit", srv.HandleAdminAuditLog, admin...)
	e.POST("/admin/score", srv.HandleRunScoring, admin...)
}

// Run serves HTTP and runs the background workers until ctx is done, then
// shuts everything down and waits for in-flight work.
func (srv *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.logger.Info("starting HTTP server", "bind", srv.config.Bind)
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})
	g.Go(func() error {
		return srv.scheduler.Run(ctx)
	})
	g.Go(func() error {
		// score once up front so the feed is not empty until the first tick
		if _, err := srv.c.pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			srv.logger.Warn("initial scoring run failed", "err", err)
		}
		return srv.c.pipeline.RunPeriodically(ctx)
	})
	g.Go(func() error {
		return srv.c.cleaner.RunPeriodically(ctx)
	})
	if srv.outbox != nil {
		g.Go(func() error {
			return srv.outbox.RunPeriodically(ctx)
		})
	}
	return g.Wait()
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), srv.config.RequestTimeout)
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	sqldb, err := srv.c.db.DB()
	if err == nil {
		err = sqldb.PingContext(ctx)
	}
	if err != nil {
		srv.logger.Error("healthcheck can't connect to database", "err", err)
		return c.JSON(http.StatusInternalServerError, GenericStatus{Status: "error", Daemon: "agora", Message: "can't connect to database"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "agora"})
}
