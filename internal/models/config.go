package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	ServerAddr  string `yaml:"server_addr" env:"SERVER_ADDR"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET"`

	Kafka      KafkaConfig      `yaml:"kafka" envPrefix:"KAFKA_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Processing ProcessingConfig `yaml:"processing" envPrefix:"PROCESSING_"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
	GroupID string   `yaml:"group_id" env:"GROUP_ID"`
	Workers int      `yaml:"workers" env:"WORKERS"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // s3 or local

	S3Endpoint     string        `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3Region       string        `yaml:"s3_region" env:"S3_REGION"`
	S3AccessKeyID  string        `yaml:"s3_access_key_id" env:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `yaml:"s3_secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool          `yaml:"s3_use_path_style" env:"S3_USE_PATH_STYLE"`
	PrivateBucket  string        `yaml:"private_bucket" env:"PRIVATE_BUCKET"`
	PrivatePrefix  string        `yaml:"private_prefix" env:"PRIVATE_PREFIX"`
	PublicBucket   string        `yaml:"public_bucket" env:"PUBLIC_BUCKET"`
	PublicPrefix   string        `yaml:"public_prefix" env:"PUBLIC_PREFIX"`
	PresignTTL     time.Duration `yaml:"presign_ttl" env:"PRESIGN_TTL"`

	LocalPath    string `yaml:"local_path" env:"LOCAL_PATH"`
	LocalBaseURL string `yaml:"local_base_url" env:"LOCAL_BASE_URL"`
}

type ProcessingConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffBase    time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax     time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	TaskTimeout    time.Duration `yaml:"task_timeout" env:"TASK_TIMEOUT"`
	ThumbWidth     int           `yaml:"thumb_width" env:"THUMB_WIDTH"`
	ThumbHeight    int           `yaml:"thumb_height" env:"THUMB_HEIGHT"`
	ViewWidth      int           `yaml:"view_width" env:"VIEW_WIDTH"`
	ViewHeight     int           `yaml:"view_height" env:"VIEW_HEIGHT"`
	JPEGQuality    int           `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	WatermarkScale float64       `yaml:"watermark_scale" env:"WATERMARK_SCALE"`
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName: "photogallery",
		Environment: "development",
		ServerAddr:  ":8080",
		LogLevel:    "info",
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "image-processing",
			GroupID: "image-processor-group",
			Workers: 4,
		},
		Storage: StorageConfig{
			Backend:        "s3",
			S3Region:       "us-east-1",
			S3UsePathStyle: true,
			PrivatePrefix:  "originals",
			PublicPrefix:   "derived",
			PresignTTL:     15 * time.Minute,
		},
		Processing: ProcessingConfig{
			MaxAttempts:    3,
			BackoffBase:    2 * time.Second,
			BackoffMax:     time.Minute,
			TaskTimeout:    2 * time.Minute,
			ThumbWidth:     300,
			ThumbHeight:    300,
			ViewWidth:      800,
			ViewHeight:     600,
			JPEGQuality:    85,
			WatermarkScale: 0.10,
		},
	}
}

// LoadConfig layers defaults, the YAML file at path (if present), an optional
// .env file and finally the process environment.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%s: parse env: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	p := c.Processing
	switch {
	case p.ThumbWidth <= 0 || p.ThumbHeight <= 0:
		return fmt.Errorf("thumbnail bounds must be positive")
	case p.ViewWidth <= 0 || p.ViewHeight <= 0:
		return fmt.Errorf("viewing bounds must be positive")
	case p.JPEGQuality < 1 || p.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality must be within 1..100")
	case p.WatermarkScale <= 0 || p.WatermarkScale > 1:
		return fmt.Errorf("watermark scale must be within (0, 1]")
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1")
	case c.Kafka.Workers < 1:
		return fmt.Errorf("kafka workers must be at least 1")
	}
	return nil
}
