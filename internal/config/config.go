// internal/config/config.go
//
// Environment-backed configuration helpers shared by the binaries. Every
// service loads a .env file first (via godotenv) and then reads from the
// process environment with a default fallback.
package config

import (
	"os"
	"strconv"
	"time"
)

// Env reads an environment variable or returns a default value.
func Env(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// EnvInt parses an environment variable as an integer, else a default value.
func EnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// EnvInt64 parses an environment variable as an int64, else a default value.
func EnvInt64(key string, def int64) int64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// EnvDuration parses an environment variable with time.ParseDuration, else a
// default value.
func EnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
