package config

import (
	"os"
	"time"
)

// Service holds the settings of the HTTP and gRPC front ends.
type Service struct {
	HTTPAddr           string
	GRPCAddr           string
	DatabaseDSN        string
	RedisAddr          string
	JWTSecret          string
	JWTAudience        string
	ImageProcessorAddr string
	EngineConfigPath   string
	ShutdownTimeout    time.Duration
}

// LoadService reads service settings from the environment.
func LoadService() Service {
	return Service{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:           getEnv("GRPC_ADDR", ":50051"),
		DatabaseDSN:        getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=kycverif port=5432 sslmode=disable"),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:        os.Getenv("JWT_AUDIENCE"),
		ImageProcessorAddr: os.Getenv("IMAGE_PROCESSOR_ADDR"),
		EngineConfigPath:   os.Getenv("ENGINE_CONFIG"),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// Engine loads the engine options referenced by EngineConfigPath, or the
// defaults when none is set.
func (s Service) Engine() (Config, error) {
	if s.EngineConfigPath == "" {
		return Default(), nil
	}
	return LoadFile(s.EngineConfigPath)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
