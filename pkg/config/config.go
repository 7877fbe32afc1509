package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	StorageBucket   string
	Environment     string

	// Inbox preview placeholders for file messages. These are configuration,
	// not literals, so deployments can localize them.
	ImagePreviewText string
	PDFPreviewText   string

	MaxAttachmentBytes int64
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		ImagePreviewText:   getEnv("CHAT_IMAGE_PREVIEW", "📷 Image"),
		PDFPreviewText:     getEnv("CHAT_PDF_PREVIEW", "📄 PDF"),
		MaxAttachmentBytes: getEnvAsInt64("CHAT_MAX_ATTACHMENT_BYTES", 5*1024*1024),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
