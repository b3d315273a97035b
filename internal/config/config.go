package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	Timezone      string
	SupportPhone  string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Analytics pipeline
	UseMemoryQueue       bool
	AnalyticsQueueURL    string
	StepViewsTable       string
	ReconciliationBucket string

	// Branch directory
	BranchDirectoryBaseURL string
	BranchDirectoryAPIKey  string
	BranchCacheTTL         time.Duration
	FetchHorizonDays       int
	VisibleHorizonDays     int

	// SMS transport
	SMSProvider              string
	SMSFromNumber            string
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TwilioAccountSID         string
	TwilioAuthToken          string

	// Confirmation email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	EmailReplyTo      string
	SESConfigSet      string

	// OTP challenge
	OTPSecret         string
	OTPCodeTTL        time.Duration
	OTPResendCooldown time.Duration
	OTPMaxAttempts    int
	OTPFailureDelay   time.Duration
	OTPVerifiedTTL    time.Duration

	// Appointment commit
	AppointmentTokenSecret string
	CommitMaxAttempts      int
	CommitBackoff          time.Duration

	// Read paths (journey fetch, directory fetch)
	ReadRetryAttempts int
	ReadRetryBackoff  time.Duration

	// Reconciliation worker
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	ProcessedRetention time.Duration

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	OTPRateLimitRPS    float64
	OTPRateLimitBurst  int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Timezone:      getEnv("APP_TIMEZONE", "America/New_York"),
		SupportPhone:  getEnv("SUPPORT_PHONE", "(800) 555-0199"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		AnalyticsQueueURL:    getEnv("ANALYTICS_QUEUE_URL", ""),
		StepViewsTable:       getEnv("STEP_VIEWS_TABLE", "journey_step_views"),
		ReconciliationBucket: getEnv("RECONCILIATION_BUCKET", ""),

		BranchDirectoryBaseURL: getEnv("BRANCH_DIRECTORY_BASE_URL", ""),
		BranchDirectoryAPIKey:  getEnv("BRANCH_DIRECTORY_API_KEY", ""),
		BranchCacheTTL:         getEnvAsDuration("BRANCH_CACHE_TTL", 5*time.Minute),
		FetchHorizonDays:       getEnvAsInt("FETCH_HORIZON_DAYS", 12),
		VisibleHorizonDays:     getEnvAsInt("VISIBLE_HORIZON_DAYS", 10),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		SMSFromNumber:            getEnv("SMS_FROM_NUMBER", ""),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Appraisal Team"),
		EmailReplyTo:      getEnv("EMAIL_REPLY_TO", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),

		OTPSecret:         getEnv("OTP_SECRET", ""),
		OTPCodeTTL:        getEnvAsDuration("OTP_CODE_TTL", 10*time.Minute),
		OTPResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", 15*time.Second),
		OTPMaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		OTPFailureDelay:   getEnvAsDuration("OTP_FAILURE_DELAY", 5*time.Second),
		OTPVerifiedTTL:    getEnvAsDuration("OTP_VERIFIED_TTL", 30*time.Minute),

		AppointmentTokenSecret: getEnv("APPOINTMENT_TOKEN_SECRET", ""),
		CommitMaxAttempts:      getEnvAsInt("COMMIT_MAX_ATTEMPTS", 3),
		CommitBackoff:          getEnvAsDuration("COMMIT_BACKOFF", 500*time.Millisecond),

		ReadRetryAttempts: getEnvAsInt("READ_RETRY_ATTEMPTS", 3),
		ReadRetryBackoff:  getEnvAsDuration("READ_RETRY_BACKOFF", 300*time.Millisecond),

		ReconcileInterval:  getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileBatchSize: getEnvAsInt("RECONCILE_BATCH_SIZE", 25),
		ProcessedRetention: getEnvAsDuration("PROCESSED_EVENTS_RETENTION", 7*24*time.Hour),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		OTPRateLimitRPS:    getEnvAsFloat("OTP_RATE_LIMIT_RPS", 0.5),
		OTPRateLimitBurst:  getEnvAsInt("OTP_RATE_LIMIT_BURST", 5),
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
