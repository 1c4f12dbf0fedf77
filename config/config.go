package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"afroboost/store"
	"afroboost/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var envLoaded bool

// DefaultSuperAdmins are the platform owners used when SUPER_ADMIN_EMAILS is
// not set.
var DefaultSuperAdmins = []string{"contact.artboost@gmail.com", "afroboost.bassi@gmail.com"}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

type WhatsAppConfig struct {
	Provider      string `json:"provider"`
	APIURL        string `json:"api_url"`
	Token         string `json:"-"`
	PhoneNumberID string `json:"phone_number_id"`
}

type SchedulerConfig struct {
	Tick           time.Duration `json:"tick"`
	MaxAttempts    int           `json:"max_attempts"`
	Lease          time.Duration `json:"lease"`
	ChannelTimeout time.Duration `json:"channel_timeout"`
	WorkerID       string        `json:"worker_id"`
}

type Config struct {
	Environment         string          `json:"environment"`
	LogLevel            string          `json:"log_level"`
	ServerPort          string          `json:"server_port"`
	DBHost              string          `json:"db_host"`
	DBPort              string          `json:"db_port"`
	DBUser              string          `json:"db_user"`
	DBPassword          string          `json:"-"`
	DBName              string          `json:"db_name"`
	DBSSLMode           string          `json:"db_ssl_mode"`
	DBMaxIdleConns      int             `json:"db_max_idle_conns"`
	DBMaxOpenConns      int             `json:"db_max_open_conns"`
	SuperAdminEmails    []string        `json:"super_admin_emails"`
	DefaultCoachID      string          `json:"default_coach_id"`
	Timezone            string          `json:"timezone"`
	Location            *time.Location  `json:"-"`
	MaxMessageSize      int             `json:"max_message_size"`
	NonceWindow         time.Duration   `json:"nonce_window"`
	RequestTimeout      time.Duration   `json:"request_timeout"`
	Scheduler           SchedulerConfig `json:"scheduler"`
	EmailProvider       string          `json:"email_provider"`
	SMTP                SMTPConfig      `json:"smtp"`
	FromEmail           string          `json:"from_email"`
	FromName            string          `json:"from_name"`
	AWSRegion           string          `json:"aws_region"`
	WhatsApp            WhatsAppConfig  `json:"whatsapp"`
	JWTSecret           string          `json:"-"`
	StripeSecretKey     string          `json:"-"`
	StripeWebhookSecret string          `json:"-"`
	Redis               RedisConfig     `json:"redis"`
	RateLimitPerMinute  int             `json:"rate_limit_per_minute"`
	CORSOrigins         string          `json:"cors_origins"`
	SentryDSN           string          `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment:      getEnv("ENVIRONMENT", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ServerPort:       getEnv("SERVER_PORT", "5000"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "afroboost"),
		DBSSLMode:        getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		SuperAdminEmails: getEnvAsList("SUPER_ADMIN_EMAILS", DefaultSuperAdmins),
		DefaultCoachID:   utils.NormalizeEmail(getEnv("DEFAULT_COACH_ID", "afroboost.bassi@gmail.com")),
		Timezone:         getEnv("TIMEZONE", "Europe/Paris"),
		MaxMessageSize:   getEnvAsInt("MAX_MESSAGE_SIZE", 4000),
		NonceWindow:      getEnvAsDuration("NONCE_WINDOW", 2*time.Minute),
		RequestTimeout:   getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		Scheduler: SchedulerConfig{
			Tick:           getEnvAsDuration("SCHEDULER_TICK", 30*time.Second),
			MaxAttempts:    getEnvAsInt("SCHEDULER_MAX_ATTEMPTS", 3),
			Lease:          getEnvAsDuration("SCHEDULER_LEASE", 5*time.Minute),
			ChannelTimeout: getEnvAsDuration("CHANNEL_TIMEOUT", 10*time.Second),
			WorkerID:       getEnv("WORKER_ID", defaultWorkerID()),
		},
		EmailProvider: getEnv("EMAIL_PROVIDER", "smtp"),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		FromEmail: getEnv("FROM_EMAIL", ""),
		FromName:  getEnv("FROM_NAME", "Afroboost"),
		AWSRegion: getEnv("AWS_REGION", ""),
		WhatsApp: WhatsAppConfig{
			Provider:      getEnv("WHATSAPP_PROVIDER", "cloud"),
			APIURL:        getEnv("WHATSAPP_API_URL", ""),
			Token:         getEnv("WHATSAPP_TOKEN", ""),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		},
		JWTSecret:           getEnv("JWT_SECRET", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	// Validate required configurations
	if cfg.DBPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Environment == "production" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	logConfig(cfg)
	return cfg, nil
}

// normalize applies the bounds the rest of the system relies on.
func (c *Config) normalize() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if len(c.SuperAdminEmails) < 2 {
		return fmt.Errorf("SUPER_ADMIN_EMAILS must list at least two addresses")
	}
	for i, email := range c.SuperAdminEmails {
		c.SuperAdminEmails[i] = utils.NormalizeEmail(email)
	}
	if c.NonceWindow < time.Minute {
		c.NonceWindow = time.Minute
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4000
	}
	if c.Scheduler.Tick < 30*time.Second {
		c.Scheduler.Tick = 30 * time.Second
	}
	if c.Scheduler.Tick > time.Minute {
		c.Scheduler.Tick = time.Minute
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return nil
}

func ConnectDB(cfg *Config) (*store.Store, error) {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)
	logrus.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	gormLogLevel := logger.Warn
	if cfg.Environment == "development" {
		gormLogLevel = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(gormLogLevel),
		NowFunc: func() time.Time { return utils.UTC(time.Now()) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logrus.Info("Successfully connected to the database")

	s := store.New(db)
	logrus.Info("Starting database migration...")
	if err := s.Migrate(); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("Database migration completed")
	return s, nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "afroboost"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig(cfg *Config) {
	logrus.WithFields(logrus.Fields{
		"environment":    cfg.Environment,
		"server_port":    cfg.ServerPort,
		"database":       fmt.Sprintf("%s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName),
		"timezone":       cfg.Timezone,
		"scheduler_tick": cfg.Scheduler.Tick,
		"worker_id":      cfg.Scheduler.WorkerID,
		"email_provider": cfg.EmailProvider,
		"whatsapp":       cfg.WhatsApp.Provider,
		"redis_enabled":  cfg.Redis.Enabled,
		"super_admins":   len(cfg.SuperAdminEmails),
	}).Info("Loaded configuration")
}
