package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	JWTSecret  string

	// Blob storage. Backend is either "fs" (local directory) or "s3".
	BlobBackend string
	UploadDir   string

	// MinIO/S3 configuration, used when BlobBackend is "s3".
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// RedisAddr enables the file-record cache when non-empty.
	RedisAddr string
	CacheTTL  time.Duration

	CORSOrigins []string
}

func Load() *Config {
	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))

	cacheTTL, err := time.ParseDuration(getEnvOrDefault("CACHE_TTL", "5m"))
	if err != nil || cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Config{
		ServerAddr:     getEnvOrDefault("SERVER_ADDR", ":8080"),
		DBHost:         getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:         getEnvOrDefault("DB_PORT", "5432"),
		DBUser:         getEnvOrDefault("DB_USER", "fileregistry"),
		DBPassword:     getEnvOrDefault("DB_PASSWORD", "fileregistry_dev_password"),
		DBName:         getEnvOrDefault("DB_NAME", "fileregistry"),
		JWTSecret:      getEnvOrDefault("JWT_SECRET", generateDefaultSecret()),
		BlobBackend:    getEnvOrDefault("BLOB_BACKEND", "fs"),
		UploadDir:      getEnvOrDefault("UPLOAD_DIR", "uploads"),
		MinioEndpoint:  getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnvOrDefault("MINIO_BUCKET", "file-registry"),
		MinioUseSSL:    minioUseSSL,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		CacheTTL:       cacheTTL,
		CORSOrigins:    splitOrigins(getEnvOrDefault("CORS_ORIGINS", "*")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
