package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"citenet/config"
	"citenet/models"
	"citenet/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// scanRunner runs inbox scans in the background. Scans stop when ctx is done and
// wait blocks until every started scan has returned.
type scanRunner struct {
	ctx context.Context
	w   *services.Watcher
	wg  sync.WaitGroup
}

func newScanRunner(ctx context.Context, w *services.Watcher) *scanRunner {
	return &scanRunner{ctx: ctx, w: w}
}

func (r *scanRunner) trigger() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		n, err := r.w.RunOnce(r.ctx)
		if err != nil {
			r.w.Logger.Error("Async inbox scan failed", zap.Error(err))
			return
		}
		r.w.Logger.Info("Async inbox scan completed", zap.Int("ingested", n))
	}()
}

func (r *scanRunner) wait() { r.wg.Wait() }

func newRouter(cfg *config.Config, db *gorm.DB, scans *scanRunner, log *zap.Logger, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(metrics))

	setupCitationRoutes(router, db, log)
	setupArticleRoutes(router, db, log)
	setupIngestRoutes(router, scans)
	return router
}

func serve(ctx context.Context, a *app, w *services.Watcher) error {
	scans := newScanRunner(ctx, w)
	// the caller closes the store once serve returns
	defer scans.wait()

	router := newRouter(a.cfg, a.db, scans, a.log, promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Starting server", zap.String("port", a.cfg.HTTPPort))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setupCitationRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/citations")

	rg.GET("/counts", func(c *gin.Context) {
		limit := 0
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}

		counts, err := services.CitationCounts(c.Request.Context(), db, c.QueryArray("id"), limit)
		if err != nil {
			log.Error("Citation count query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if counts == nil {
			counts = []services.CitationCount{}
		}
		c.JSON(http.StatusOK, counts)
	})
}

func setupArticleRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/articles")

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		err := db.WithContext(c.Request.Context()).
			Preload("Journal").
			Where("article_identifier = ?", id).
			First(&article).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("DB error fetching article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})
}

func setupIngestRoutes(router *gin.Engine, scans *scanRunner) {
	router.POST("/ingest", func(c *gin.Context) {
		scans.trigger()
		c.JSON(http.StatusAccepted, gin.H{"message": "Inbox scan triggered."})
	})
}
