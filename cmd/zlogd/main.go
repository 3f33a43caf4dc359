// Command zlogd runs the zlog HTTP API server over a configured backend.
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	zlogconfig "github.com/edirooss/zlog/internal/config"
	zlogcore "github.com/edirooss/zlog/internal/zlog"

	httpapi "github.com/edirooss/zlog/internal/api/http"
	"github.com/edirooss/zlog/internal/backend/gcsbackend"
	"github.com/edirooss/zlog/internal/backend/membackend"
	"github.com/edirooss/zlog/internal/backend/redisbackend"
	"github.com/edirooss/zlog/internal/logservice"

	"cloud.google.com/go/storage"
)

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("main")

	cfg, err := zlogconfig.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	backend, err := buildBackend(log, cfg)
	if err != nil {
		log.Fatal("build backend", zap.Error(err))
	}

	svc := logservice.New(log, backend, zlogcore.Config{
		DefaultWidth:    cfg.Striper.DefaultWidth,
		DefaultSlots:    cfg.Striper.DefaultSlots,
		RefreshInterval: cfg.Striper.RefreshInterval,
	})

	server := httpapi.NewServer(log, svc, cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func buildBackend(log *zap.Logger, cfg *zlogconfig.Config) (zlogcore.Backend, error) {
	switch cfg.Backend {
	case zlogconfig.BackendMemory:
		return membackend.New(log), nil
	case zlogconfig.BackendRedis:
		client := redisbackend.NewClient(cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB, log)
		return redisbackend.NewBackend(client), nil
	case zlogconfig.BackendGCS:
		client, err := storage.NewClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsbackend.New(client, cfg.GCS.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
