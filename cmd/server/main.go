package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"galleryaccess/internal/api"
	"galleryaccess/internal/config"
	"galleryaccess/internal/db"
	"galleryaccess/internal/logging"
	"galleryaccess/internal/notify"
	"galleryaccess/internal/rate"
	"galleryaccess/internal/service"
	"galleryaccess/internal/store"
	"galleryaccess/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	sqdb, err := db.Open(db.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		Path:        cfg.DBPath,
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("open db", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, cfg.MigrationsPath); err != nil {
		logger.Fatal("migration", zap.String("path", cfg.MigrationsPath), zap.Error(err))
	}

	var attempts rate.Counter = rate.NewMemory()
	if cfg.AttemptStore == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		attempts = rate.NewRedis(rdb, "")
	}

	svc := service.New(cfg, store.New(sqdb, cfg.DBDriver), attempts, notify.NewSender(cfg, logger), logger)
	read, readHeader, write, idle := cfg.HTTPServerTimeouts()
	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(cfg, svc, logger),
		ReadTimeout:       read,
		ReadHeaderTimeout: readHeader,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version.Current().Version),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("attempt_store", cfg.AttemptStore),
	)
	if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server", zap.Error(err))
	}
}
