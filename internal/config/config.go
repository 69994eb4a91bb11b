package config

import (
	"os"
	"strconv"
	"time"

	"signali.bg/internal/ratelimit"
)

// Config is the env-driven service configuration. Defaults suit a local
// development run against docker-compose postgres/redis.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	// RateLimitFailOpen decides limiter behavior when the bucket store
	// is unreachable: allow (true) or deny (false). Explicit by design.
	RateLimitFailOpen bool

	// RateLimits is the per-channel policy table for the public surface.
	RateLimits map[string]ratelimit.Policy

	// SMTP relay for reporter/admin mail. Empty SMTPAddr means mail is
	// rendered to the log instead of sent.
	SMTPAddr     string
	SMTPFrom     string
	SMTPUser     string
	SMTPPassword string

	EmailPerMinute int

	ShutdownTimeout time.Duration
}

// Channel names used across the HTTP surface.
const (
	ChannelSignalUpdate   = "signal_update"
	ChannelApprovalCreate = "approval_create"
	ChannelApprovalDecide = "approval_decide"
	ChannelRoleChange     = "role_change"
	ChannelPublicRead     = "public_read"
)

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Addr:              getenv("SIGNALI_ADDR", ":8080"),
		DatabaseURL:       getenv("SIGNALI_PG_DSN", ""),
		RedisURL:          getenv("SIGNALI_REDIS_URL", ""),
		RateLimitFailOpen: getenvBool("SIGNALI_RATE_LIMIT_FAIL_OPEN", true),
		RateLimits: map[string]ratelimit.Policy{
			ChannelSignalUpdate:   policyFromEnv(ChannelSignalUpdate, 60, 60, time.Minute),
			ChannelApprovalCreate: policyFromEnv(ChannelApprovalCreate, 10, 10, time.Minute),
			ChannelApprovalDecide: policyFromEnv(ChannelApprovalDecide, 30, 30, time.Minute),
			ChannelRoleChange:     policyFromEnv(ChannelRoleChange, 20, 20, time.Minute),
			ChannelPublicRead:     policyFromEnv(ChannelPublicRead, 300, 300, time.Minute),
		},
		SMTPAddr:        getenv("SIGNALI_SMTP_ADDR", ""),
		SMTPFrom:        getenv("SIGNALI_SMTP_FROM", "no-reply@signali.bg"),
		SMTPUser:        getenv("SIGNALI_SMTP_USER", ""),
		SMTPPassword:    getenv("SIGNALI_SMTP_PASSWORD", ""),
		EmailPerMinute:  getenvInt("SIGNALI_EMAIL_PER_MINUTE", 60),
		ShutdownTimeout: time.Duration(getenvInt("SIGNALI_SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// policyFromEnv builds one channel's policy, overridable per channel via
// SIGNALI_RATE_<CHANNEL>_{CAPACITY,REFILL,WINDOW_SECONDS}.
func policyFromEnv(channel string, capacity, refill float64, window time.Duration) ratelimit.Policy {
	prefix := "SIGNALI_RATE_" + envUpper(channel) + "_"
	return ratelimit.Policy{
		Channel:         channel,
		Capacity:        getenvFloat(prefix+"CAPACITY", capacity),
		RefillPerWindow: getenvFloat(prefix+"REFILL", refill),
		Window:          time.Duration(getenvInt(prefix+"WINDOW_SECONDS", int(window.Seconds()))) * time.Second,
	}
}

func envUpper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
