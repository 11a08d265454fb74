package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// WhatsApp gateway (Evolution API)
	GatewayBaseURL      string
	GatewayAPIKey       string
	GatewayInstanceName string

	// Completion provider
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	WhisperModel  string

	// Operator notification channel (Telegram)
	TelegramBotToken string
	TelegramChatIDs  []string

	// Phones whose operator-device messages route to the manager agent
	AdminPhones []string

	ClinicName     string
	ClinicTimezone string

	// Scheduling
	WorkStartHour int
	WorkEndHour   int
	SlotDuration  time.Duration
	Blackouts     []BlackoutWindow

	// Handoff
	HandoffTimeout       time.Duration
	HandoffSweepInterval time.Duration

	// Lead reactivation
	ReactivationHour      int
	ReactivationBatchSize int
	FollowUpMax           int
	FirstFollowUpAfter    time.Duration
	FinalFollowUpAfter    time.Duration

	HistoryLimit int
}

// BlackoutWindow is a closed date range during which the clinic takes no bookings.
type BlackoutWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w BlackoutWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Load reads configuration from environment variables
func Load() *Config {
	// Blackout bounds are calendar dates in the clinic's local time, so
	// they are parsed in that zone, not UTC.
	clinicTZ := getEnv("CLINIC_TZ", "America/Santo_Domingo")
	loc, err := time.LoadLocation(clinicTZ)
	if err != nil {
		loc = time.UTC
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		GatewayBaseURL:      getEnv("EVOLUTION_API_URL", ""),
		GatewayAPIKey:       getEnv("EVOLUTION_API_KEY", ""),
		GatewayInstanceName: getEnv("EVOLUTION_INSTANCE_NAME", "dr-sonrisa"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		ChatModel:     getEnv("CHAT_MODEL", "gpt-4o-mini"),
		WhisperModel:  getEnv("WHISPER_MODEL", "whisper-1"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs:  getEnvAsList("TELEGRAM_CHAT_IDS", nil),

		AdminPhones: getEnvAsList("ADMIN_PHONES", nil),

		ClinicName:     getEnv("CLINIC_NAME", "Clínica Dental Dra. Yasmin Pacheco"),
		ClinicTimezone: clinicTZ,

		WorkStartHour: getEnvAsInt("WORK_START_HOUR", 9),
		WorkEndHour:   getEnvAsInt("WORK_END_HOUR", 18),
		SlotDuration:  getEnvAsDuration("SLOT_DURATION", time.Hour),
		Blackouts:     getEnvAsBlackouts("BLACKOUT_WINDOWS", loc, defaultBlackouts(loc)),

		HandoffTimeout:       getEnvAsDuration("HANDOFF_TIMEOUT", 2*time.Hour),
		HandoffSweepInterval: getEnvAsDuration("HANDOFF_SWEEP_INTERVAL", 30*time.Minute),

		ReactivationHour:      getEnvAsInt("REACTIVATION_HOUR", 10),
		ReactivationBatchSize: getEnvAsInt("REACTIVATION_BATCH_SIZE", 5),
		FollowUpMax:           getEnvAsInt("FOLLOW_UP_MAX", 2),
		FirstFollowUpAfter:    getEnvAsDuration("FIRST_FOLLOW_UP_AFTER", 24*time.Hour),
		FinalFollowUpAfter:    getEnvAsDuration("FINAL_FOLLOW_UP_AFTER", 48*time.Hour),

		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 10),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsBlackouts parses windows of the form "2025-12-24..2026-01-07",
// comma-separated. The end date extends to end of day. Malformed entries are
// skipped rather than failing startup.
// defaultBlackouts covers the clinic's end-of-year holiday closure.
func defaultBlackouts(loc *time.Location) []BlackoutWindow {
	from, _ := time.ParseInLocation(time.DateOnly, "2025-12-24", loc)
	to, _ := time.ParseInLocation(time.DateOnly, "2026-01-07", loc)
	return []BlackoutWindow{{From: from, To: to.Add(24*time.Hour - time.Second)}}
}

func getEnvAsBlackouts(key string, loc *time.Location, defaultValue []BlackoutWindow) []BlackoutWindow {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []BlackoutWindow
	for _, part := range strings.Split(valueStr, ",") {
		bounds := strings.SplitN(strings.TrimSpace(part), "..", 2)
		if len(bounds) != 2 {
			continue
		}
		from, err := time.ParseInLocation(time.DateOnly, bounds[0], loc)
		if err != nil {
			continue
		}
		to, err := time.ParseInLocation(time.DateOnly, bounds[1], loc)
		if err != nil {
			continue
		}
		out = append(out, BlackoutWindow{
			From: from,
			To:   to.Add(24*time.Hour - time.Second),
		})
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
