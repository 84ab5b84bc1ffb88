package config

import (
	"os"
	"strconv"
)

type Config struct {
	ListenAddr string
	DBPath     string

	ImagePath    string
	QRPath       string
	MaxImageDim  int
	ThumbnailDim int

	QRSize   int
	QRBorder int
	QRPrefix string

	MaxRecordsPerItem int

	ClaudeAPIKey    string
	ClaudeModel     string
	DescribeRetries int

	LogLevel string
	LogFile  string
}

func Load() *Config {
	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "./data/berrytrace.db"),
		ImagePath:         getEnv("IMAGE_PATH", "./data/images"),
		QRPath:            getEnv("QR_PATH", "./data/qr_codes"),
		MaxImageDim:       getEnvInt("MAX_IMAGE_DIM", 1920),
		ThumbnailDim:      getEnvInt("THUMBNAIL_DIM", 300),
		QRSize:            getEnvInt("QR_SIZE", 10),
		QRBorder:          getEnvInt("QR_BORDER", 4),
		QRPrefix:          getEnv("QR_PREFIX", "SB"),
		MaxRecordsPerItem: getEnvInt("MAX_RECORDS_PER_ITEM", 10),
		ClaudeAPIKey:      getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:       getEnv("CLAUDE_MODEL", "claude-3-5-haiku-latest"),
		DescribeRetries:   getEnvInt("DESCRIBE_RETRIES", 3),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
