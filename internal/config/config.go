package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	TaxRatePercent        float64
	SummaryTTLSeconds     int
	UnderwritingMaxDays   int
	SnapshotHour          int
	ServiceSweepHour      int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	taxRate, err := strconv.ParseFloat(getEnv("TAX_RATE_PERCENT", "6"), 64)
	if err != nil || taxRate < 0 {
		taxRate = 6
	}
	summaryTTL, err := strconv.Atoi(getEnv("SUMMARY_TTL_SECONDS", "60"))
	if err != nil || summaryTTL < 1 {
		summaryTTL = 60
	}
	uwDays, err := strconv.Atoi(getEnv("UNDERWRITING_MAX_DAYS", "3"))
	if err != nil || uwDays < 1 {
		uwDays = 3
	}
	snapshotHour := hourEnv("SNAPSHOT_HOUR", 9)
	sweepHour := hourEnv("SERVICE_SWEEP_HOUR", 21)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("APP_ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		TaxRatePercent:        taxRate,
		SummaryTTLSeconds:     summaryTTL,
		UnderwritingMaxDays:   uwDays,
		SnapshotHour:          snapshotHour,
		ServiceSweepHour:      sweepHour,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func hourEnv(key string, fallback int) int {
	h, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || h < 0 || h > 23 {
		return fallback
	}
	return h
}
