package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clawdhub/skillguard/automod/engine"
	"github.com/clawdhub/skillguard/automod/gate"
	"github.com/clawdhub/skillguard/automod/reputation"
	"github.com/clawdhub/skillguard/automod/store"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	store      *store.GormStore
	engine     *engine.Engine
	gate       *gate.Gate
	reputation *reputation.Client
	submitter  *reputation.Submitter
	adminToken string
	automod    engine.Config

	now func() time.Time
}

type Config struct {
	Logger     *slog.Logger
	Bind       string
	AdminToken string
	Store      *store.GormStore
	Engine     *engine.Engine
	Gate       *gate.Gate
	// optional; trust lookups use stored reputation status only when nil
	Reputation *reputation.Client
	// optional; bundle submission is disabled when nil
	Submitter *reputation.Submitter
	Automod   engine.Config
	// defaults to the global prometheus registry
	Registerer prometheus.Registerer
}

func NewServer(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, errors.New("warden server requires a store")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 2 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:       e,
		logger:     logger,
		store:      config.Store,
		engine:     config.Engine,
		gate:       config.Gate,
		reputation: config.Reputation,
		submitter:  config.Submitter,
		adminToken: config.AdminToken,
		automod:    config.Automod,
		now:        time.Now,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4M"))
	e.Use(otelecho.Middleware("warden"))
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "warden",
		Registerer: reg,
	}))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/v1/skills/:slug/trust", srv.HandleSkillTrust)
	e.POST("/v1/automod/run", srv.HandleAutomodRun, srv.checkAdminAuth)
	e.POST("/v1/submissions/check", srv.HandleSubmissionCheck, srv.checkAdminAuth)
	e.POST("/v1/versions/:id/reputation", srv.HandleVersionReputationSubmit, srv.checkAdminAuth)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) checkAdminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv.adminToken == "" {
			return echo.ErrForbidden
		}

		authheader := c.Request().Header.Get("Authorization")
		pref := "Bearer "
		if !strings.HasPrefix(authheader, pref) {
			return echo.ErrForbidden
		}
		token := authheader[len(pref):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(srv.adminToken)) != 1 {
			return echo.ErrForbidden
		}
		return next(c)
	}
}

// Serves the API until the context is cancelled, then shuts down gracefully.
func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	errc := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
		}
		return err
	case <-ctx.Done():
	}
	return srv.Shutdown()
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
