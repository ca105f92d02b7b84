package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/alerts"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/catalog"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/routing"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/storage"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/workspace"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildCatalog assembles the model catalog from the built-in defaults or a
// YAML seed file, with alias overrides applied on top.
func buildCatalog(cfg *config.Config, logger *zap.Logger) (*catalog.Catalog, error) {
	var cat *catalog.Catalog
	var err error
	if cfg.CatalogFile != "" {
		cat, err = catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		logger.Info("catalog loaded from seed file", zap.String("path", cfg.CatalogFile))
	} else {
		cat = catalog.New()
	}

	if cfg.AliasOverride != "" {
		aliases, err := catalog.ParseAliasOverrides(cfg.AliasOverride)
		if err != nil {
			return nil, err
		}
		cat.ApplyAliases(aliases)
		logger.Info("alias overrides applied", zap.Int("count", len(aliases)))
	}
	return cat, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting pilot routing engine", zap.String("port", cfg.Port))

	// PostgreSQL is optional: without it the service runs on in-memory
	// repositories and loses state on restart.
	var db *storage.DB
	if cfg.DBHost != "" {
		db, err = storage.Open(cfg.DSN())
		if err != nil {
			logger.Warn("database unavailable, using in-memory repositories",
				zap.String("dsn", cfg.RedactedDSN()), zap.Error(err))
			db = nil
		} else {
			defer db.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.Migrate(ctx); err != nil {
				cancel()
				logger.Fatal("migrations failed", zap.Error(err))
			}
			cancel()
			logger.Info("database connected and migrations applied")
		}
	}

	var usageRepo ledger.Repository
	var configRepo workspace.Repository
	var alertRepo alerts.Repository
	if db != nil {
		usageRepo = storage.NewPostgresUsageRepository(db)
		configRepo = storage.NewPostgresConfigRepository(db)
		alertRepo = storage.NewPostgresAlertRepository(db)
	} else {
		usageRepo = storage.NewMemoryUsageRepository()
		configRepo = storage.NewMemoryConfigRepository()
		alertRepo = storage.NewMemoryAlertRepository()
	}

	// Redis is optional: without it spend counters and rate limiting are off.
	var spendCache *cache.Cache
	if cfg.RedisHost != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		spendCache, err = cache.New(ctx, cfg.RedisAddr())
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, spend counters disabled", zap.Error(err))
			spendCache = nil
		} else {
			defer spendCache.Close()
		}
	}

	cat, err := buildCatalog(cfg, logger)
	if err != nil {
		logger.Fatal("catalog setup failed", zap.Error(err))
	}

	engine := routing.NewEngine(cat, breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenMaxCalls: cfg.BreakerHalfOpenMax,
	})

	store := workspace.NewStore(configRepo, cat.TaskConfigs())

	usageLedger := ledger.New(usageRepo, ledger.Options{
		Buffered:      cfg.LedgerBuffered,
		BatchSize:     cfg.LedgerBatchSize,
		FlushInterval: cfg.LedgerFlushInterval,
	}, logger)
	defer usageLedger.Close()

	alertEngine := alerts.NewEngine(alertRepo, usageLedger, logger)
	alertEngine.OnTriggered(func(ev models.AlertTriggeredEvent) {
		logger.Warn("budget alert triggered",
			zap.String("alert_id", ev.AlertID),
			zap.String("severity", string(ev.Severity)),
			zap.String("message", ev.Message),
		)
	})

	// Every recorded usage drives the per-event alert path and, when Redis is
	// up, the fast spend counters.
	usageLedger.AddHook(func(ctx context.Context, u models.TokenUsage) {
		if _, err := alertEngine.EvaluateUsage(ctx, u); err != nil {
			logger.Warn("alert evaluation failed", zap.String("usage_id", u.ID), zap.Error(err))
		}
		if spendCache == nil || !u.TotalCost.IsPositive() {
			return
		}
		if _, err := spendCache.IncrSpend(ctx, "global", "", u.TotalCost); err != nil {
			logger.Warn("spend counter update failed", zap.Error(err))
			return
		}
		if u.WorkspaceID != "" {
			_, _ = spendCache.IncrSpend(ctx, "workspace", u.WorkspaceID, u.TotalCost)
		}
		if u.UserID != "" {
			_, _ = spendCache.IncrSpend(ctx, "user", u.UserID, u.TotalCost)
		}
	})

	insightsEngine := analytics.NewEngine(usageLedger, cat)

	handlers := api.NewHandlers(engine, store, usageLedger, alertEngine, insightsEngine, spendCache, logger)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-Key", "X-API-Key"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if spendCache != nil && cfg.RateLimitPerMinute > 0 {
		r.Use(middleware.RateLimit(spendCache, logger, cfg.RateLimitPerMinute, time.Minute))
	}

	r.GET("/health", handlers.HealthCheck)

	// Routing decisions and outcome reports are the data plane.
	r.POST("/v1/route", handlers.Route)
	r.POST("/v1/outcomes", handlers.ReportOutcome)

	// Management API (fail-secure: disabled without an admin key).
	v1 := r.Group("/api/v1")
	if cfg.AdminAPIKey != "" {
		v1.Use(middleware.AdminKeyAuth(cfg.AdminAPIKey))
		logger.Info("management API authentication enabled")
	} else {
		logger.Warn("PILOT_ADMIN_API_KEY not set, management API is disabled")
		v1.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "management API disabled: PILOT_ADMIN_API_KEY not configured",
			})
		})
	}
	{
		v1.GET("/models", handlers.ListModels)
		v1.GET("/models/resolve", handlers.ResolveModel)
		v1.POST("/models/recommend", handlers.RecommendModel)
		v1.POST("/models/:provider/:model/deprecate", handlers.DeprecateModel)

		v1.GET("/routing/history", handlers.RoutingHistory)
		v1.GET("/breakers", handlers.ListBreakers)
		v1.POST("/breakers/:provider/:model/reset", handlers.ResetBreaker)

		v1.GET("/usage", handlers.QueryUsage)
		v1.GET("/usage/stats", handlers.UsageStats)
		v1.GET("/usage/:id", handlers.GetUsage)
		v1.GET("/spend/:scope/:entity_id", handlers.GetSpend)
		v1.GET("/spend/:scope", handlers.GetSpend)
		v1.GET("/insights", handlers.ListInsights)
		v1.GET("/reports/usage", handlers.UsageReport)

		v1.GET("/config/global", handlers.GetGlobalConfig)
		v1.GET("/workspaces", handlers.ListConfigs)
		v1.GET("/workspaces/:workspace_id/config", handlers.GetWorkspaceConfig)
		v1.PUT("/workspaces/:workspace_id/config", handlers.UpdateWorkspaceConfig)
		v1.POST("/workspaces/:workspace_id/config/reset", handlers.ResetWorkspaceConfig)
		v1.DELETE("/workspaces/:workspace_id/config", handlers.DeleteWorkspaceConfig)

		v1.POST("/alerts", handlers.CreateAlert)
		v1.GET("/alerts", handlers.ListAlerts)
		v1.GET("/alerts/:id", handlers.GetAlert)
		v1.DELETE("/alerts/:id", handlers.DeleteAlert)
		v1.POST("/alerts/:id/reset", handlers.ResetAlert)
		v1.GET("/alerts/:id/events", handlers.ListAlertEvents)
		v1.POST("/alerts/check", handlers.CheckAlerts)
	}

	// Periodic budget sweep.
	sweepDone := make(chan struct{})
	if cfg.AlertSweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.AlertSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if _, err := alertEngine.CheckThresholds(ctx); err != nil {
						logger.Warn("alert sweep failed", zap.Error(err))
					}
					cancel()
				case <-sweepDone:
					return
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("pilot is ready", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	close(sweepDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
