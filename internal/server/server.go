package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/observability"
	obslogger "github.com/smallbiznis/paymail/internal/observability/logger"
	obstracing "github.com/smallbiznis/paymail/internal/observability/tracing"
	statsdomain "github.com/smallbiznis/paymail/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the read-only status API when STATUS_ADDR is set.
var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Params struct {
	fx.In

	Engine *gin.Engine
	Log    *zap.Logger
	Stats  statsdomain.Service
	Store  ledgerdomain.Store
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	stats  statsdomain.Service
	store  ledgerdomain.Store
}

func NewServer(p Params) *Server {
	s := &Server{
		engine: p.Engine,
		log:    p.Log.Named("server"),
		stats:  p.Stats,
		store:  p.Store,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.GET("/stats", s.GetStats)
	api.GET("/records", s.ListRecords)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	if cfg.StatusAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.StatusAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("status server stopped", zap.String("addr", cfg.StatusAddr), zap.Error(err))
				}
			}()
			log.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
