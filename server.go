package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/middlewares"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/models/reports"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// application holds the engines the handlers call. Fields are set once the
// database is reachable; ready flips after that.
type application struct {
	settings config.Settings
	logger   *logrus.Logger

	collections collectionService
	deposits    depositService
	balance     balanceService
	reports     reportService

	ready atomic.Bool
}

func (app *application) wire(db *models.Repositories, cache reports.Cache) {
	app.collections = workflow.NewCollectionWorkflow(db.Collections, workflow.LimitsFromSettings(app.settings), app.logger)
	app.deposits = db.Deposits
	app.balance = reports.NewBalanceReport(db.Balance, app.logger, app.settings)
	app.reports = reports.NewCollectionReport(db.Reports, cache, app.logger, app.settings)
	app.ready.Store(true)
}

func newRouter(app *application, limiter *middlewares.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	if len(app.settings.CorsAllowOrigins) == 1 && app.settings.CorsAllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = app.settings.CorsAllowOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AddAllowHeaders("Authorization", middlewares.CorrelationIdHeader, idempotencyKeyHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationIdHeader)
	r.Use(cors.New(corsConfig))

	if limiter != nil {
		r.Use(limiter.Middleware())
	}
	r.Use(func(c *gin.Context) {
		if !app.ready.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting"})
			return
		}
		c.Next()
	})
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(app.logger))

	anyone := middlewares.RequireRoles(utils.RoleOperator, utils.RoleManager, utils.RoleAdmin)
	managers := middlewares.RequireRoles(utils.RoleManager, utils.RoleAdmin)
	admins := middlewares.RequireRoles(utils.RoleAdmin)

	collections := r.Group("/collections")
	collections.POST("", anyone, app.createCollectionHandler)
	collections.GET("", anyone, app.listCollectionsHandler)
	collections.POST("/bulk-cancel", admins, app.bulkCancelHandler)
	collections.GET("/:id", anyone, app.getCollectionHandler)
	collections.GET("/:id/history", anyone, app.collectionHistoryHandler)
	collections.POST("/:id/receive", managers, app.receiveCollectionHandler)
	collections.POST("/:id/edit", admins, app.editCollectionHandler)
	collections.POST("/:id/cancel", admins, app.cancelCollectionHandler)

	r.GET("/balance", managers, app.balanceHandler)

	deposits := r.Group("/deposits")
	deposits.POST("", admins, app.createDepositHandler)
	deposits.GET("", managers, app.listDepositsHandler)
	deposits.GET("/:id", managers, app.getDepositHandler)

	rpt := r.Group("/reports", anyone)
	rpt.GET("/summary", app.summaryReportHandler)
	rpt.GET("/by-machine", app.machineReportHandler)
	rpt.GET("/by-date", app.dateReportHandler)
	rpt.GET("/by-operator", app.operatorReportHandler)
	rpt.GET("/today", app.todayReportHandler)
	r.POST("/reports/cache/invalidate", admins, app.invalidateReportCacheHandler)

	r.NoRoute(customNotFoundHandler)
	return r
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger logs only requests that recorded gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func main() {
	settings := config.LoadSettings()
	logger := config.NewLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	app := &application{settings: settings, logger: logger}

	var limiter *middlewares.RateLimiter
	var rdb *redis.Client
	if settings.RateLimitEnabled {
		rdb = config.NewRedisClient()
		limiter = middlewares.NewRateLimiter(rdb, settings.RateLimitMaxRequests, settings.RateLimitWindow)
	}

	// Listen first; app routes answer 503 until dependencies are wired.
	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: newRouter(app, limiter),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithField("port", settings.Port).Info("http server listening")

	db, err := config.ConnectDatabaseWithRetry(sigCtx, logger)
	if err != nil {
		logger.WithField("module", "main").Error("database never became ready: " + err.Error())
		shutdown(srv, logger)
		return
	}
	if sqlDB, derr := db.DB(); derr == nil {
		defer sqlDB.Close()
	}
	if !settings.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithField("module", "main").Error("migration failed: " + err.Error())
		}
	} else {
		logger.WithField("module", "main").Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if rdb == nil {
		rdb, err = config.ConnectRedisWithRetry(sigCtx, logger)
		if err != nil {
			logger.WithField("module", "main").Error("redis never became ready: " + err.Error())
			shutdown(srv, logger)
			return
		}
	}
	defer rdb.Close()

	app.wire(models.NewRepositories(db, settings), config.NewRedisCache(rdb))
	logger.Info("collections service ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("module", "http").Error("server stopped unexpectedly: " + err.Error())
		}
	}
	shutdown(srv, logger)
}

func shutdown(srv *http.Server, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithField("module", "http").Error("graceful shutdown failed: " + err.Error())
	}
}
