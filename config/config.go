package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	GRPC          GRPCConfig          `yaml:"grpc"`
	Database      DatabaseConfig      `yaml:"database"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Booking       BookingConfig       `yaml:"booking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Reminder      ReminderConfig      `yaml:"reminder"`
	Worker        WorkerConfig        `yaml:"worker"`
	Log           LogConfig           `yaml:"log"`
}

type HTTPConfig struct {
	Address            string   `yaml:"address"`
	SwaggerDir         string   `yaml:"swagger_dir"`
	CORSOrigins        []string `yaml:"cors_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`

	// Vehicles preloads the memory driver, which has no other vehicle source.
	Vehicles []VehicleSeed `yaml:"vehicles"`
}

type VehicleSeed struct {
	ID         int64  `yaml:"id"`
	CustomerID int64  `yaml:"customer_id"`
	Plate      string `yaml:"plate"`
	Make       string `yaml:"make"`
	Model      string `yaml:"model"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	QueueDB  int    `yaml:"queue_db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	RelayGroupID       string   `yaml:"relay_group_id"`
	GroupID            string   `yaml:"group_id"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.NotificationsTopic != ""
}

type BookingConfig struct {
	Timezone                 string `yaml:"timezone"`
	SlotsPerSession          int    `yaml:"slots_per_session"`
	MorningWindow            string `yaml:"morning_window"`
	AfternoonWindow          string `yaml:"afternoon_window"`
	CommitTimeoutSeconds     int    `yaml:"commit_timeout_seconds"`
	AvailabilityCacheSeconds int    `yaml:"availability_cache_seconds"`
}

func (b BookingConfig) CommitTimeout() time.Duration {
	return time.Duration(b.CommitTimeoutSeconds) * time.Second
}

func (b BookingConfig) AvailabilityCacheTTL() time.Duration {
	return time.Duration(b.AvailabilityCacheSeconds) * time.Second
}

// Calendar builds the shop day layout from the booking section.
func (b BookingConfig) Calendar() (*calendar.Calendar, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", b.Timezone, err)
	}
	morning, err := calendar.ParseWindow(b.MorningWindow)
	if err != nil {
		return nil, fmt.Errorf("morning window: %w", err)
	}
	afternoon, err := calendar.ParseWindow(b.AfternoonWindow)
	if err != nil {
		return nil, fmt.Errorf("afternoon window: %w", err)
	}
	return calendar.New(map[calendar.Session]calendar.Window{
		calendar.Morning:   morning,
		calendar.Afternoon: afternoon,
	}, b.SlotsPerSession, loc)
}

type NotificationsConfig struct {
	JournalSize            int `yaml:"journal_size"`
	SubscriberBuffer       int `yaml:"subscriber_buffer"`
	HeartbeatSeconds       int `yaml:"heartbeat_seconds"`
	QueueSize              int `yaml:"queue_size"`
	DeliveryTimeoutSeconds int `yaml:"delivery_timeout_seconds"`
}

func (n NotificationsConfig) DeliveryTimeout() time.Duration {
	return time.Duration(n.DeliveryTimeoutSeconds) * time.Second
}

func (n NotificationsConfig) Heartbeat() time.Duration {
	return time.Duration(n.HeartbeatSeconds) * time.Second
}

type ReminderConfig struct {
	Enabled     bool `yaml:"enabled"`
	LeadMinutes int  `yaml:"lead_minutes"`
}

func (r ReminderConfig) Lead() time.Duration {
	return time.Duration(r.LeadMinutes) * time.Minute
}

type WorkerConfig struct {
	StaleSweepMinutes int `yaml:"stale_sweep_minutes"`
	Concurrency       int `yaml:"concurrency"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns the values used for keys missing from the file.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:            ":8080",
			RateLimitPerMinute: 120,
		},
		GRPC: GRPCConfig{Address: ":9090"},
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "autoservice",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "autoservice"},
		Kafka: KafkaConfig{
			RelayGroupID: "autoservice-relay",
			GroupID:      "autoservice-worker",
		},
		Booking: BookingConfig{
			Timezone:                 "UTC",
			SlotsPerSession:          calendar.DefaultSlotsPerSession,
			MorningWindow:            "07:00-12:00",
			AfternoonWindow:          "13:00-18:00",
			CommitTimeoutSeconds:     5,
			AvailabilityCacheSeconds: 15,
		},
		Notifications: NotificationsConfig{
			JournalSize:            100,
			SubscriberBuffer:       64,
			HeartbeatSeconds:       15,
			QueueSize:              256,
			DeliveryTimeoutSeconds: 10,
		},
		Reminder: ReminderConfig{LeadMinutes: 24 * 60},
		Worker:   WorkerConfig{StaleSweepMinutes: 60, Concurrency: 10},
		Log:      LogConfig{Env: "development", Level: "info"},
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Booking.CommitTimeoutSeconds <= 0 {
		return fmt.Errorf("booking.commit_timeout_seconds must be positive")
	}
	if _, err := c.Booking.Calendar(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	if c.Notifications.JournalSize <= 0 || c.Notifications.SubscriberBuffer <= 0 || c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("notifications: journal_size, subscriber_buffer and queue_size must be positive")
	}
	if c.Notifications.DeliveryTimeoutSeconds <= 0 {
		return fmt.Errorf("notifications.delivery_timeout_seconds must be positive")
	}
	if c.Worker.StaleSweepMinutes <= 0 {
		return fmt.Errorf("worker.stale_sweep_minutes must be positive")
	}
	if c.Reminder.Enabled && !c.Redis.Enabled() {
		return fmt.Errorf("reminder.enabled requires redis.addr")
	}
	return nil
}
