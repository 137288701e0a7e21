package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/metrics"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	contestController "codearena/internal/contest/controller"
	"codearena/internal/contest/leaderboard"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	"codearena/internal/judge/judge0"
	"codearena/internal/judge/model"
	"codearena/internal/judge/runner"
	problemController "codearena/internal/problem/controller"
	problemRepo "codearena/internal/problem/repository"
	problemService "codearena/internal/problem/service"
	submitController "codearena/internal/submit/controller"
	submitRepo "codearena/internal/submit/repository"
	submitService "codearena/internal/submit/service"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/arena_service.yaml"

type handlers struct {
	cors     commonmw.CORSConfig
	problems *problemController.ProblemController
	contests *contestController.ContestController
	submits  *submitController.SubmitController
	auth     *commonmw.Authenticator
	metrics  *metrics.Metrics
	health   *healthChecker
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewStaticProvider(mysqlDB)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	// Kafka and MinIO are optional; without them judged events and source archives are skipped.
	var producer mq.Producer
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaProducer.Close()
		}()
		producer = kafkaProducer
	} else {
		logger.Warn(ctx, "kafka not configured, judged events disabled")
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		if err := minioStorage.EnsureBucket(ctx, appCfg.Submit.SourceBucket); err != nil {
			logger.Error(ctx, "ensure source bucket failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	} else {
		logger.Warn(ctx, "minio not configured, source archive disabled")
	}

	judgeClient, err := judge0.NewClient(appCfg.Judge.Judge0, nil)
	if err != nil {
		logger.Error(ctx, "init judge0 client failed", zap.Error(err))
		return
	}
	policy, _ := runner.ParsePolicy(appCfg.Judge.Aggregation)
	scoring, _ := leaderboard.NewScoringPolicy(appCfg.Contest.Scoring)
	m := metrics.New()

	problems := problemService.NewProblemService(
		problemRepo.NewProblemRepositoryWithTTL(mysqlDB, redisCache, appCfg.Contest.ProblemCacheTTL, time.Minute),
	)
	contests := contestService.NewContestService(
		contestRepo.NewContestRepositoryWithTTL(mysqlDB, redisCache, appCfg.Contest.ContestCacheTTL, time.Minute),
		leaderboard.NewStore(redisCache, scoring),
		time.Now,
	)

	submits, err := submitService.NewSubmitService(submitService.Config{
		Problems:         problems,
		Grader:           runner.New(judgeClient, appCfg.Judge.Runner),
		SubmissionRepo:   submitRepo.NewSubmissionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Submit.SubmissionCacheTTL, appCfg.Submit.SubmissionEmptyTTL),
		ProgressRepo:     submitRepo.NewProgressRepository(mysqlDB),
		Cache:            redisCache,
		Languages:        model.NewLanguageTable(appCfg.Judge.Languages),
		Contests:         contests,
		DB:               dbProvider,
		Storage:          objStorage,
		MQ:               producer,
		Metrics:          m,
		Policy:           policy,
		SourceBucket:     appCfg.Submit.SourceBucket,
		SourceKeyPrefix:  appCfg.Submit.SourceKeyPrefix,
		EventTopic:       appCfg.Submit.EventTopic,
		MaxCodeBytes:     appCfg.Submit.MaxCodeBytes,
		IdempotencyTTL:   appCfg.Submit.IdempotencyTTL,
		RateLimit:        appCfg.Submit.RateLimit,
		Timeouts:         appCfg.Submit.Timeouts,
		LeaderboardRetry: appCfg.Submit.LeaderboardRetry,
	})
	if err != nil {
		logger.Error(ctx, "init submit service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, handlers{
		cors:     appCfg.Server.CORS,
		problems: problemController.NewProblemController(problems),
		contests: contestController.NewContestController(contests, appCfg.Contest.Stream),
		submits:  submitController.NewSubmitController(submits),
		auth:     commonmw.NewAuthenticator(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer, redisCache, appCfg.Auth.BlacklistTimeout),
		metrics:  m,
		health:   &healthChecker{database: mysqlDB, cache: redisCache, broker: producer, timeout: defaultHealthTimeout},
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "arena http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("aggregation", string(policy)),
			zap.String("scoring", scoring.Name()),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	// In-flight submissions finish grading and persistence before the server returns.
	sctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, h handlers) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      buildRouter(h),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func buildRouter(h handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(h.cors))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(h.metrics.GinMiddleware())
	router.Use(requestLogger())

	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	router.GET("/health", h.health.handle)

	protected := commonmw.AuthMiddleware(h.auth, commonmw.AuthPolicy{Mode: commonmw.AuthModeProtected})
	optional := commonmw.AuthMiddleware(h.auth, commonmw.AuthPolicy{Mode: commonmw.AuthModeOptional})

	api := router.Group("/api/v1")

	problems := api.Group("/problems/:problemId")
	problems.GET("", h.problems.Get)
	problems.POST("/submit", protected, h.submits.Submit)
	problems.GET("/submissions/me", protected, h.submits.ListMine)

	contests := api.Group("/contests")
	contests.GET("", h.contests.List)
	contests.GET("/:contestId", h.contests.Get)
	contests.POST("/:contestId/register", protected, h.contests.Register)
	contests.POST("/:contestId/problems/:problemId/submit", protected, h.submits.SubmitContest)
	contests.GET("/:contestId/leaderboard", h.contests.Leaderboard)
	contests.GET("/:contestId/leaderboard/stream", h.contests.StreamLeaderboard)

	api.GET("/submissions/:submissionId", optional, h.submits.Get)
	api.GET("/users/me/solved", protected, h.submits.Solved)

	return router
}

type healthChecker struct {
	database db.Database
	cache    cache.Cache
	// broker is nil when Kafka is not configured. Events are best effort, so
	// an unreachable broker is reported without failing the check.
	broker  mq.Producer
	timeout time.Duration
}

func (h *healthChecker) handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := gin.H{"database": "ok", "redis": "ok"}
	healthy := true
	if err := h.database.Ping(ctx); err != nil {
		status["database"] = err.Error()
		healthy = false
	}
	if err := h.cache.Ping(ctx); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}
	if h.broker != nil {
		status["kafka"] = "ok"
		if err := h.broker.Ping(ctx); err != nil {
			status["kafka"] = "degraded: " + err.Error()
		}
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	response.Success(c, status)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
