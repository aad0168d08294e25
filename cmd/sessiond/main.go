package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/docsession/uploader/api/handlers"
	"github.com/docsession/uploader/api/routes"
	cfg "github.com/docsession/uploader/config"
	"github.com/docsession/uploader/internal/session"
	"github.com/docsession/uploader/pkg/logger"
	"github.com/docsession/uploader/pkg/queue"
	"github.com/docsession/uploader/pkg/storage"
	"github.com/docsession/uploader/pkg/storage/local"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overriding the environment")
	flag.Parse()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/sessiond.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	serverConfig := cfg.GetServerConfig()
	if *configPath != "" {
		serverConfig, err = cfg.LoadServerFile(*configPath)
		if err != nil {
			log.Fatal("Failed to load config file:", logger.Error(err))
		}
	}

	// init blob storage, local honors the overlaid storage_dir
	var blobs storage.Storage
	if t := storage.StorageType(serverConfig.StorageType); t == storage.StorageTypeLocal {
		blobs, err = local.NewLocalStorage(log, serverConfig.StorageDir)
	} else {
		blobs, err = storage.NewStorage(t, log)
	}
	if err != nil {
		log.Fatal("Failed to init storage:", logger.Error(err))
	}

	// init chunk spool
	spool, err := session.NewChunkSpool(log, serverConfig.SpoolDir)
	if err != nil {
		log.Fatal("Failed to init chunk spool:", logger.Error(err))
	}

	// init record store
	var store session.Store
	switch serverConfig.RecordStore {
	case "redis":
		redisConfig := cfg.GetRedisConfig()
		store = session.NewRedisStore(log, redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		}))
	default:
		store = session.NewMemoryStore()
	}

	// init task queue
	taskQueue, err := queue.GetQueue()
	if err != nil {
		log.Fatal("Failed to init task queue:", logger.Error(err))
	}
	defer taskQueue.Close()

	svc := session.NewService(store, spool, blobs, taskQueue, log, nil)

	// init handlers
	h := handlers.NewHandlers(svc, log)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, serverConfig.MaxUploadBytes)
		c.Next()
	})
	routes.SetupRoutes(r, h, serverConfig)

	srv := &http.Server{
		Addr:    serverConfig.ListenAddr,
		Handler: r,
	}

	// periodic cleanup of expired blobs and abandoned chunk spools
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if err := svc.Cleanup(cleanupCtx); err != nil {
					log.Warn("Cleanup failed", logger.Error(err))
				}
			}
		}
	}()

	// start server
	go func() {
		log.Info("Session service starting", logger.String("addr", serverConfig.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error:", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown:", logger.Error(err))
	}
}
