package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	LibraryURL   string
	LibraryToken string
	CacheSize    int
	CacheTTL     time.Duration
	CORSOrigins  string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:     getenv("QR_HTTP_ADDR", ":8003"),
		LibraryURL:   getenv("LIBRARY_URL", "http://localhost:8001"),
		LibraryToken: getenv("LIBRARY_SERVICE_TOKEN", ""),
		CacheSize:    getenvInt("QR_CACHE_SIZE", 512),
		CacheTTL:     time.Duration(getenvInt("QR_CACHE_TTL_SECONDS", 60)) * time.Second,
		CORSOrigins:  getenv("CORS_ALLOW_ORIGINS", "*"),
	}
}

const ShutdownGrace = 10 * time.Second
