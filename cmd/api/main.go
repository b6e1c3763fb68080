// Command api exposes the dispatcher (C5) over HTTP: POST /submit and
// GET /status/:jobId. Grounded on the teacher's server.go Router/
// loggingMiddleware idiom (gin.New + Recovery + a structured logging
// middleware), minus auth and swagger — both out of scope here since
// there is no external caller identity model in spec.md and no codegen
// step carried over from the teacher's swaggo annotations.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/config"
	"github.com/interlock-studios/creva-ingest/internal/dispatch"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
	"github.com/interlock-studios/creva-ingest/internal/pipeline"
)

var log = obslog.For("cmd-api")

// hotCacheTTL bounds how long a cache entry may live in Redis before a
// fresh Firestore read is forced, independent of the entry's own
// expiresAt (internal/cachestore.NewHotCache).
const hotCacheTTL = 10 * time.Minute

type submitRequest struct {
	URL    string `json:"url" binding:"required,url"`
	Locale string `json:"locale" binding:"omitempty,bcp47_language_tag"`
}

func registerCustomValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("bcp47_language_tag", func(fl validator.FieldLevel) bool {
			value := fl.Field().String()
			return len(value) > 0 && len(value) <= 35
		})
	}
}

func main() {
	registerCustomValidators()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firestoreClient, err := newFirestoreClient(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create firestore client")
	}
	defer firestoreClient.Close()

	redisClient, err := cachestore.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	firestoreCache := cachestore.NewFirestoreStore(firestoreClient, cfg.CacheCollection)
	cache := cachestore.NewHotCache(firestoreCache, redisClient, hotCacheTTL)
	jobs := jobqueue.NewFirestoreStore(firestoreClient, cfg.QueueCollection, cfg.ResultsCollection, nil)

	runner := pipeline.NewRunner(pipeline.UnimplementedFetcher{}, pipeline.UnimplementedFrameExtractor{}, pipeline.UnimplementedAnalyzer{}, cache, cfg.CacheTTLHours)
	dispatcher := dispatch.New(runner, cache, jobs, cfg.MaxDirect, cfg.DirectTimeout)

	router := newRouter(dispatcher)

	srv := &http.Server{
		Addr:         ":" + portOrDefault(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("api server stopped unexpectedly")
		}
	}()

	waitForShutdown(ctx, srv)
}

func newRouter(d *dispatch.Dispatcher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())

	router.GET("/health", handleHealth)
	router.POST("/submit", handleSubmit(d))
	router.GET("/status/:jobId", handleStatus(d))

	return router
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Round(time.Millisecond)
		log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration", duration.String()).
			Info("handled request")
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleSubmit(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "url must be a valid, non-empty URL")
			return
		}

		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		result, err := d.Submit(c.Request.Context(), req.URL, req.Locale, requestID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}

		if result.Queued != nil {
			c.JSON(http.StatusAccepted, gin.H{
				"status":   result.Queued.Status,
				"jobId":    result.Queued.JobID,
				"checkUrl": result.Queued.CheckURL,
			})
			return
		}
		c.JSON(http.StatusOK, result.Payload)
	}
}

func handleStatus(d *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")
		jr, err := d.JobStatus(c.Request.Context(), jobID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, jr)
	}
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func newFirestoreClient(ctx context.Context, cfg config.Config) (*firestore.Client, error) {
	if cfg.FirestoreCredsPath == "" {
		return firestore.NewClient(ctx, cfg.FirestoreProjectID)
	}
	return firestore.NewClient(ctx, cfg.FirestoreProjectID, option.WithCredentialsFile(cfg.FirestoreCredsPath))
}

func portOrDefault() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "8080"
}

func waitForShutdown(ctx context.Context, srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error during server shutdown")
	}
}
