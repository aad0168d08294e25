package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig
)

// ServerConfig holds the session service settings. Environment variables
// provide the defaults; a YAML file passed to LoadServerFile overrides them.
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	StorageType    string   `yaml:"storage_type"` // local | minio | s3
	StorageDir     string   `yaml:"storage_dir"`  // root for the local backend
	SpoolDir       string   `yaml:"spool_dir"`    // chunk assembly area
	RecordStore    string   `yaml:"record_store"` // memory | redis
	AllowedOrigins []string `yaml:"allowed_origins"`
	CSRFToken      string   `yaml:"csrf_token"`       // empty disables the check
	MaxUploadBytes int64    `yaml:"max_upload_bytes"` // per-request body cap
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()

		serverConfig = &ServerConfig{
			ListenAddr:     getEnv("SESSIOND_LISTEN_ADDR", ":8080"),
			StorageType:    getEnv("SESSION_STORAGE_TYPE", "local"),
			StorageDir:     getEnv("SESSION_STORAGE_DIR", "data/blobs"),
			SpoolDir:       getEnv("SESSION_SPOOL_DIR", "data/spool"),
			RecordStore:    getEnv("SESSION_RECORD_STORE", "memory"),
			AllowedOrigins: getEnvList("SESSIOND_CORS_ORIGINS", []string{"http://localhost:3000"}),
			CSRFToken:      getEnv("SESSION_CSRF_TOKEN", ""),
			MaxUploadBytes: getEnvInt64("SESSIOND_MAX_UPLOAD_BYTES", 512*1024*1024),
		}
	})
	return serverConfig
}

// LoadServerFile overlays a YAML config file on the environment defaults.
// The shared GetServerConfig value is left untouched.
func LoadServerFile(path string) (*ServerConfig, error) {
	base := *GetServerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &base, nil
}
