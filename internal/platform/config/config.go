package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JudgeQueueName    string
	JudgeWorkers      int
	JudgeMaxAttempts  int
	JudgeRetryBackoff time.Duration
	JudgeStaleAfter   time.Duration
	SandboxURL        string
	SandboxTimeout    time.Duration

	SubmitRateLimit  int
	SubmitRateWindow time.Duration

	FinalizeInterval time.Duration
	FinalizeLockTTL  time.Duration

	DefaultRuntimeLimitMs int
	DefaultMemoryLimitKb  int
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:       getEnv("API_PORT", "8080"),
		JWTKey:        []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:        time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "user"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "bytebattle_db"),
		DBSslMode:     getEnv("DB_SSLMODE", "disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JudgeQueueName:    getEnv("JUDGE_QUEUE_NAME", "judge_queue"),
		JudgeWorkers:      getEnvAsInt("JUDGE_WORKERS", 4),
		JudgeMaxAttempts:  getEnvAsInt("JUDGE_MAX_ATTEMPTS", 3),
		JudgeRetryBackoff: time.Duration(getEnvAsInt("JUDGE_RETRY_BACKOFF_MS", 2000)) * time.Millisecond,
		JudgeStaleAfter:   time.Duration(getEnvAsInt("JUDGE_STALE_AFTER_SECONDS", 120)) * time.Second,
		SandboxURL:        getEnv("SANDBOX_URL", "http://localhost:9000/run"),
		SandboxTimeout:    time.Duration(getEnvAsInt("SANDBOX_TIMEOUT_SECONDS", 30)) * time.Second,

		SubmitRateLimit:  getEnvAsInt("SUBMIT_RATE_LIMIT", 10),
		SubmitRateWindow: time.Duration(getEnvAsInt("SUBMIT_RATE_WINDOW_SECONDS", 60)) * time.Second,

		FinalizeInterval: time.Duration(getEnvAsInt("FINALIZE_INTERVAL_SECONDS", 300)) * time.Second,
		FinalizeLockTTL:  time.Duration(getEnvAsInt("FINALIZE_LOCK_TTL_SECONDS", 120)) * time.Second,

		DefaultRuntimeLimitMs: getEnvAsInt("DEFAULT_RUNTIME_LIMIT_MS", 5000),
		DefaultMemoryLimitKb:  getEnvAsInt("DEFAULT_MEMORY_LIMIT_KB", 262144),
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
