package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Settings holds the business limits and report tuning read from the environment.
type Settings struct {
	Port string

	CollectionMaxAmount decimal.Decimal
	ReasonMaxLength     int
	NotesMaxLength      int

	ReportTimezoneOffsetHours int
	RangeReportTTL            time.Duration
	TodayReportTTL            time.Duration
	ReportSlowThreshold       time.Duration

	CorsAllowOrigins []string

	RateLimitEnabled     bool
	RateLimitMaxRequests int64
	RateLimitWindow      time.Duration

	SkipMigrations bool
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// LoadSettings reads Settings, falling back to defaults for missing or malformed values.
func LoadSettings() Settings {
	return Settings{
		Port: stringFromEnv("PORT", "8080"),

		CollectionMaxAmount: decimalFromEnv("COLLECTION_MAX_AMOUNT", decimal.NewFromInt(100000000)),
		ReasonMaxLength:     intFromEnv("REASON_MAX_LENGTH", 500),
		NotesMaxLength:      intFromEnv("NOTES_MAX_LENGTH", 1000),

		ReportTimezoneOffsetHours: intFromEnv("REPORT_TZ_OFFSET_HOURS", 5),
		RangeReportTTL:            time.Duration(intFromEnv("REPORT_CACHE_TTL_SECONDS", 60)) * time.Second,
		TodayReportTTL:            time.Duration(intFromEnv("TODAY_REPORT_CACHE_TTL_SECONDS", 30)) * time.Second,
		ReportSlowThreshold:       time.Duration(intFromEnv("REPORT_SLOW_MS", 500)) * time.Millisecond,

		CorsAllowOrigins: listFromEnv("CORS_ALLOW_ORIGINS", []string{"*"}),

		RateLimitEnabled:     boolFromEnv("RATE_LIMIT_ENABLED"),
		RateLimitMaxRequests: int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
		RateLimitWindow:      time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		SkipMigrations: boolFromEnv("SKIP_MIGRATIONS"),
	}
}

// ReportLocation is the fixed zone report dates are interpreted in.
func (s Settings) ReportLocation() *time.Location {
	offset := s.ReportTimezoneOffsetHours
	name := "UTC"
	if offset >= 0 {
		name += "+" + strconv.Itoa(offset)
	} else {
		name += strconv.Itoa(offset)
	}
	return time.FixedZone(name, offset*3600)
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true")
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return def
	}
	return d
}

func listFromEnv(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
