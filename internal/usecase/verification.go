package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/imageprocessor"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/logging"
	"github.com/example/kyc-verif/internal/repository"
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	processor      imageprocessor.Client
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	resultTTL      time.Duration
}

// DuplicateReport represents duplicate verification entries for a request.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, processor imageprocessor.Client, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		processor:      processor,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		resultTTL:      5 * time.Minute,
	}
}

// VerifyImage runs the engine on imageBytes, persists the outcome and caches
// it. Results with an error status are stored like any other outcome.
func (uc *VerificationUseCase) VerifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *kyc.Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_image", requestID)

	key := cacheKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, key, processingMarker, time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	start := time.Now()
	result, err := uc.processor.Process(ctx, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.process_image", requestID, err)
		opLogger.Error("image processing failed", zap.Error(wrapped))
		uc.clearProcessing(ctx, requestID, key)
		return "", nil, wrapped
	}
	latency := time.Since(start)

	hash := sha1.Sum(imageBytes)
	log := &repository.VerificationLog{
		RequestID:       requestID,
		EngineRequestID: result.RequestID,
		UserID:          userID,
		Status:          string(result.Status),
		Code:            result.Code,
		Details:         result.Phrase,
		SHA1Hash:        hex.EncodeToString(hash[:]),
		LatencyMs:       latency.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
	if result.Score != nil {
		log.Score = result.Score.Score
		log.Verified = result.Score.Verified
	}
	if result.Recognition != nil {
		fields, err := json.Marshal(result.Recognition.Fields)
		if err != nil {
			opLogger.Error("failed to serialize recognized fields", zap.Error(err))
			uc.clearProcessing(ctx, requestID, key)
			return "", nil, err
		}
		log.Fields = string(fields)
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		uc.clearProcessing(ctx, requestID, key)
		return "", nil, wrapped
	}

	serialized, err := encodeCached(log)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		uc.clearProcessing(ctx, requestID, key)
		return "", nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, key, serialized, uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		uc.clearProcessing(ctx, requestID, key)
		return "", nil, err
	}

	opLogger.Info("verification stored",
		zap.String("status", log.Status),
		zap.Bool("verified", log.Verified),
		zap.Duration("latency", latency),
	)
	return requestID, result, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
// A cached entry of another user is treated as a miss.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey(requestID)); err == nil {
		if log, err := decodeCached(cached); err != nil {
			opLogger.Debug("cache entry not a result", zap.Error(err))
		} else if log.UserID == userID {
			return log, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// clearProcessing drops the processing marker of a request that will never
// produce a cached result, so readers fall through to the repository at once.
func (uc *VerificationUseCase) clearProcessing(ctx context.Context, requestID, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := uc.withRedisRetry(ctx, requestID, "cache.delete.processing", func() error {
		return uc.cache.Delete(ctx, key)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.delete.processing", requestID).
			Warn("failed to clear processing flag", zap.Error(err))
	}
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, key string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
