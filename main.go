package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/kyc-verif/internal/auth"
	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/grpcclient"
	"github.com/example/kyc-verif/internal/handlers"
	"github.com/example/kyc-verif/internal/imageprocessor"
	"github.com/example/kyc-verif/internal/logging"
	"github.com/example/kyc-verif/internal/pipeline"
	"github.com/example/kyc-verif/internal/repository"
	"github.com/example/kyc-verif/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := config.LoadService()
	engineCfg, err := svc.Engine()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(engineCfg.LogLevel())
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, svc.DatabaseDSN, logger)
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, svc.RedisAddr, logger)

	processor, closeProcessor := initProcessor(ctx, svc, engineCfg, logger)
	defer closeProcessor()

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewVerificationUseCase(repo, cache, processor, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(svc.JWTSecret, svc.JWTAudience))

	server := &http.Server{
		Addr:              svc.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("verification API listening", zap.String("addr", svc.HTTPAddr))
	if err := serveHTTPServer(server, svc.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initProcessor connects to a remote engine when IMAGE_PROCESSOR_ADDR is set
// and runs one in process otherwise.
func initProcessor(ctx context.Context, svc config.Service, engineCfg config.Config, logger *zap.Logger) (imageprocessor.Client, func()) {
	if svc.ImageProcessorAddr != "" {
		client, conn, err := grpcclient.DialImageProcessor(ctx, svc.ImageProcessorAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to image processor", zap.Error(err))
		}
		logger.Info("using remote verification engine", zap.String("addr", svc.ImageProcessorAddr))
		return client, func() { conn.Close() }
	}

	engine := pipeline.New(logger)
	if err := engine.Init(engineCfg); err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}
	logger.Info("using in-process verification engine", zap.Int("workers", engineCfg.Workers()))
	return imageprocessor.NewLocal(engine, logger), func() {
		if err := engine.Deinit(); err != nil {
			logger.Warn("engine deinit failed", zap.Error(err))
		}
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a signal
// arrives, then shuts down gracefully. A nil listener means ListenAndServe
// and a nil signalCh means SIGINT/SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
