package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
	Network  NetworkConfig
	Cache    CacheConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"0s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type WorkerConfig struct {
	TempDir         string        `envconfig:"WORKER_TEMP_DIR" default:"/tmp/offlinecache"`
	Concurrency     int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	SweepOnStart    bool          `envconfig:"WORKER_SWEEP_ON_START" default:"true"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
	FetchTimeout    time.Duration `envconfig:"WORKER_FETCH_TIMEOUT" default:"30m"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"offlinecache"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"offlinecache"`
	DBName   string `envconfig:"POSTGRES_DB" default:"offlinecache"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type MinIOConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"offline-videos"`
	Namespace string `envconfig:"MINIO_NAMESPACE" default:"lms-video-files-v1"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"offlinecache"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"offlinecache"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`
}

type NetworkConfig struct {
	// ProbeURL is checked with a HEAD request to decide whether new downloads may start.
	// An empty value disables probing and the network is assumed online.
	ProbeURL      string        `envconfig:"NETWORK_PROBE_URL" default:""`
	ProbeInterval time.Duration `envconfig:"NETWORK_PROBE_INTERVAL" default:"15s"`
	ProbeTimeout  time.Duration `envconfig:"NETWORK_PROBE_TIMEOUT" default:"3s"`
}

type CacheConfig struct {
	ProgressTTL time.Duration `envconfig:"CACHE_PROGRESS_TTL" default:"1h"`
	SessionTTL  time.Duration `envconfig:"CACHE_SESSION_TTL" default:"24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
