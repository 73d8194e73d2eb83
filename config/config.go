package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"quorum/models"
)

var AppConfig Config

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
	From     string `json:"from"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret string `json:"-"`
	SentryDSN string `json:"-"`

	Redis RedisConfig `json:"redis"`
	SMTP  SMTPConfig  `json:"smtp"`

	// DeadlineSweepInterval controls how often the deadline worker looks for
	// questions to close.
	DeadlineSweepInterval time.Duration `json:"deadline_sweep_interval"`
}

func init() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "quorum"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret: getEnv("JWT_SECRET", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("FROM_EMAIL", "no-reply@quorum.local"),
		},

		DeadlineSweepInterval: time.Duration(getEnvAsInt("DEADLINE_SWEEP_SECONDS", 30)) * time.Second,
	}

	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Environment == "production" && AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required in production")
	}

	logConfig()
	return nil
}

// ConnectDB opens the Postgres connection, tunes the pool and runs the schema
// migration. The handle is returned rather than stored globally; callers pass
// it to whatever needs it.
func ConnectDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Connecting to database:", maskPassword(dsn))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database connected and migrated")
	return db, nil
}

// ConnectRedis returns the tally cache client, or nil when Redis is disabled.
// All cache call sites treat a nil client as "cache off".
func ConnectRedis() *redis.Client {
	if !AppConfig.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     AppConfig.Redis.Address,
		Password: AppConfig.Redis.Password,
		DB:       AppConfig.Redis.DB,
	})
}

// Migrate creates the schema plus the ballot uniqueness indexes. The partial
// indexes are the single serialization point for concurrent votes: one ballot
// per voter on standard/single-select questions, one per (voter, option)
// otherwise. Soft-deleted rows are excluded so a replaced ballot frees the
// slot. Exported so tests can migrate their own database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMember{},
		&models.Question{},
		&models.PollOption{},
		&models.Vote{},
	); err != nil {
		return err
	}

	// Postgres and SQLite (tests) share the partial index syntax.
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_votes_single_choice
			ON votes (question_id, user_id)
			WHERE single_choice AND deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_votes_voter_option
			ON votes (question_id, user_id, poll_option_id)
			WHERE poll_option_id IS NOT NULL AND deleted_at IS NULL`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create ballot index: %w", err)
		}
	}
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
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
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const marker = "password="
	startIdx := strings.Index(dsn, marker)
	if startIdx == -1 {
		return dsn
	}
	startIdx += len(marker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName)
	log.Printf("Redis: enabled=%t Sentry: enabled=%t SMTP: enabled=%t",
		AppConfig.Redis.Enabled,
		AppConfig.SentryDSN != "",
		AppConfig.SMTP.Host != "")
}
