package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig holds configuration specific to the HTTP API server.
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string           `mapstructure:"APP_NAME"`
	AppVersion string           `mapstructure:"APP_VERSION"`
	LogLevel   string           `mapstructure:"LOG_LEVEL"`
	Server     ServerConfig     `mapstructure:"SERVER"` // sync (push) server
	APIServer  APIServerConfig  `mapstructure:"API_SERVER"`
	Kafka      KafkaConfig      `mapstructure:"KAFKA"`
	Database   DatabaseConfig   `mapstructure:"DATABASE"`
	Docstore   DocstoreConfig   `mapstructure:"DOCSTORE"`
	Storage    StorageConfig    `mapstructure:"STORAGE"`
	Auth       AuthConfig       `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig  `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig      `mapstructure:"REDIS"`
	Evaluation EvaluationConfig `mapstructure:"EVALUATION"`
}

// ServerConfig holds configuration for the sync (WebSocket push) server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
// Kafka carries the committed document change stream from the API server
// to every sync server instance.
type KafkaConfig struct {
	Brokers              []string `mapstructure:"BROKERS"`
	ClientID             string   `mapstructure:"CLIENT_ID"`
	DocumentChangesTopic string   `mapstructure:"DOCUMENT_CHANGES_TOPIC"`
	ConsumerGroup        string   `mapstructure:"CONSUMER_GROUP"`
	Protocol             string   `mapstructure:"PROTOCOL"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
}

// DocstoreConfig holds tuning knobs for the document store.
type DocstoreConfig struct {
	// MaxTxAttempts bounds the optimistic transaction retry loop before an
	// operation is surfaced as unavailable.
	MaxTxAttempts int `mapstructure:"MAX_TX_ATTEMPTS"`
}

// StorageConfig holds configuration for profile picture storage.
type StorageConfig struct {
	Type          string `mapstructure:"TYPE"` // "local"
	LocalPath     string `mapstructure:"LOCAL_PATH"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
}

// EvaluationConfig holds configuration for the battle evaluation call.
// The endpoint is any OpenAI-compatible chat completions API.
type EvaluationConfig struct {
	BaseURL        string        `mapstructure:"BASE_URL"`
	APIKey         string        `mapstructure:"API_KEY"`
	Model          string        `mapstructure:"MODEL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "Orator-Go")
	v.SetDefault("APP_VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")

	// Server Defaults (SyncServer)
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Kafka Defaults
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "orator-go-client")
	v.SetDefault("KAFKA.DOCUMENT_CHANGES_TOPIC", "orator-document-changes")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "orator-sync-server-group")

	// Database Defaults (PostgreSQL)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "orator_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")

	// Docstore Defaults
	v.SetDefault("DOCSTORE.MAX_TX_ATTEMPTS", 5)

	// Storage Defaults
	v.SetDefault("STORAGE.TYPE", "local")
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 10)

	// Auth Defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 15*time.Minute)

	// Redis Defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// WebSocket Defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)

	// Evaluation Defaults
	v.SetDefault("EVALUATION.BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("EVALUATION.API_KEY", "")
	v.SetDefault("EVALUATION.MODEL", "gpt-4o-mini")
	v.SetDefault("EVALUATION.REQUEST_TIMEOUT", 60*time.Second)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv() // Read in environment variables that match
	// Example: SERVER_PORT will override Server.Port
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; defaults still apply
	}

	err = v.Unmarshal(&config)
	return
}
