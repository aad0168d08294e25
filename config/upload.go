package config

import (
	"sync"
	"time"
)

var (
	uploadOnce   sync.Once
	uploadConfig *UploadConfig
)

// UploadConfig holds the client-side upload settings.
type UploadConfig struct {
	BaseURL         string
	CSRFToken       string
	DevUser         string
	ChunkSize       int64
	StandardTimeout time.Duration
	ChunkTimeout    time.Duration
	HistoryLimit    int
	ReleaseDelay    time.Duration
	DeepValidation  bool
}

func GetUploadConfig() *UploadConfig {
	uploadOnce.Do(func() {
		loadEnv()

		uploadConfig = &UploadConfig{
			BaseURL:         getEnv("SESSION_BASE_URL", "http://localhost:8080"),
			CSRFToken:       getEnv("SESSION_CSRF_TOKEN", ""),
			DevUser:         getEnv("SESSION_DEV_USER", ""),
			ChunkSize:       getEnvInt64("SESSION_CHUNK_SIZE", 5*1024*1024),
			StandardTimeout: getEnvDuration("SESSION_STANDARD_TIMEOUT", time.Hour),
			ChunkTimeout:    getEnvDuration("SESSION_CHUNK_TIMEOUT", 10*time.Minute),
			HistoryLimit:    getEnvInt("SESSION_HISTORY_LIMIT", 20),
			ReleaseDelay:    getEnvDuration("SESSION_RELEASE_DELAY", 5*time.Minute),
			DeepValidation:  getEnvBool("SESSION_DEEP_VALIDATION", false),
		}
	})
	return uploadConfig
}
