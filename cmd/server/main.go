package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/api"
	"github.com/anuragpy07/ByteBattle/internal/api/ws"
	"github.com/anuragpy07/ByteBattle/internal/app/service"
	"github.com/anuragpy07/ByteBattle/internal/common/security"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/events"
	"github.com/anuragpy07/ByteBattle/internal/judge"
	"github.com/anuragpy07/ByteBattle/internal/platform/cache"
	"github.com/anuragpy07/ByteBattle/internal/platform/config"
	"github.com/anuragpy07/ByteBattle/internal/platform/database"
	"github.com/anuragpy07/ByteBattle/internal/platform/queue"
	"github.com/anuragpy07/ByteBattle/internal/ranking"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config.Load()
	logger.Info("configuration loaded")

	security.InitJWT()

	database.Connect()
	defer database.Close()

	cache.ConnectRedis()
	defer cache.CloseRedis()

	userRepo := repository.NewPgUserRepository(database.DB)
	problemRepo := repository.NewPgProblemRepository(database.DB)
	submissionRepo := repository.NewPgSubmissionRepository(database.DB)
	contestRepo := repository.NewPgContestRepository(database.DB)

	bus := events.NewBus(logger)
	defer bus.Close()

	judgeQueue := queue.NewRedisQueue(cache.RDB, config.AppConfig.JudgeQueueName)
	sandbox := judge.NewHTTPSandbox(config.AppConfig.SandboxURL, config.AppConfig.SandboxTimeout)
	pool := judge.NewPool(judgeQueue, sandbox, submissionRepo, problemRepo, bus, logger, judge.PoolConfig{
		Workers:      config.AppConfig.JudgeWorkers,
		MaxAttempts:  config.AppConfig.JudgeMaxAttempts,
		RetryBackoff: config.AppConfig.JudgeRetryBackoff,
		StaleAfter:   config.AppConfig.JudgeStaleAfter,
	})

	standings := ranking.NewStandings(contestRepo, submissionRepo, bus, logger)
	locker := cache.NewRedisLocker(cache.RDB)
	finalizer := ranking.NewFinalizer(
		contestRepo, submissionRepo, userRepo, standings, locker, bus, logger,
		config.AppConfig.FinalizeInterval, config.AppConfig.FinalizeLockTTL,
	)

	hub := ws.NewHub(logger)

	limiter := cache.NewRedisRateLimiter(cache.RDB, "ratelimit:submit",
		config.AppConfig.SubmitRateLimit, config.AppConfig.SubmitRateWindow)

	authService := service.NewAuthService(userRepo)
	problemService := service.NewProblemService(problemRepo, database.DB, logger)
	submissionService := service.NewSubmissionService(
		submissionRepo, problemRepo, contestRepo, pool, limiter, database.DB, logger)
	contestService := service.NewContestService(contestRepo, standings, cache.RDB, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	pool.Start(workerCtx)
	go standings.Run(workerCtx)
	go finalizer.Run(workerCtx)
	go hub.Run(workerCtx, bus)

	router := api.NewRouter(authService, problemService, submissionService, contestService, hub)

	server := &http.Server{
		Addr:         ":" + config.AppConfig.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("port", config.AppConfig.APIPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-stop

	logger.Info("shutting down")
	workerCancel()
	pool.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}

	logger.Info("server and workers stopped gracefully")
}
