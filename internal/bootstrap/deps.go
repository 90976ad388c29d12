package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Domenick1991/autoservice/config"
	"github.com/Domenick1991/autoservice/internal/cache"
	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/kafka"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Deps holds the infrastructure shared by the API and the worker. Cache and
// Producer are nil when redis or kafka is not configured.
type Deps struct {
	Calendar     *calendar.Calendar
	Appointments repository.AppointmentRepository
	Vehicles     repository.VehicleRepository
	Cache        *cache.RedisCache
	Producer     *kafka.Producer
	Checks       []Check

	closers []func() error
	log     *zap.Logger
}

func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Deps, error) {
	cal, err := cfg.Booking.Calendar()
	if err != nil {
		return nil, err
	}
	d := &Deps{Calendar: cal, log: log}

	if err := d.openStore(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}

	if cfg.Redis.Enabled() {
		client := cache.NewRedisClient(cfg.Redis)
		d.Cache = cache.NewRedisCache(client, cfg.Booking.AvailabilityCacheTTL(), cfg.Notifications.JournalSize)
		d.closers = append(d.closers, client.Close)
		d.Checks = append(d.Checks, Check{Name: "redis", Probe: d.Cache.Ping})
	}

	if cfg.Kafka.Enabled() {
		d.Producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic, log)
		d.closers = append(d.closers, d.Producer.Close)
		d.Checks = append(d.Checks, Check{Name: "kafka", Probe: d.Producer.CheckConnection})
	}

	return d, nil
}

func (d *Deps) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		if err := repository.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		d.Appointments = repository.NewAppointmentRepository(pool)
		d.Vehicles = repository.NewVehicleRepository(pool)
		d.Checks = append(d.Checks, Check{Name: "postgres", Probe: pool.Ping})

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		d.closers = append(d.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		db := client.Database(cfg.Mongo.Database)
		appointments := repository.NewMongoAppointmentRepository(db)
		if err := appointments.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		d.Appointments = appointments
		d.Vehicles = repository.NewMongoVehicleRepository(db)
		d.Checks = append(d.Checks, Check{Name: "mongo", Probe: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		}})

	case config.DriverMemory:
		vehicles := repository.NewMemoryVehicleRepository()
		for _, v := range cfg.Database.Vehicles {
			vehicles.Add(domain.Vehicle{ID: v.ID, CustomerID: v.CustomerID, Plate: v.Plate, Make: v.Make, Model: v.Model})
		}
		d.Appointments = repository.NewMemoryAppointmentRepository()
		d.Vehicles = vehicles
		d.log.Warn("using in-memory store, data is lost on restart", zap.Int("vehicles", len(cfg.Database.Vehicles)))

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	return nil
}

// Journal is the redis journal when available, otherwise a process-local one.
func (d *Deps) Journal(size int) notify.Journal {
	if d.Cache != nil {
		return d.Cache
	}
	return notify.NewMemoryJournal(size)
}

// Publisher is the kafka producer when available, otherwise fallback.
func (d *Deps) Publisher(fallback notify.Publisher) notify.Publisher {
	if d.Producer != nil {
		return d.Producer
	}
	return fallback
}

func (d *Deps) Close() {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.log.Warn("closing dependencies", zap.Error(err))
	}
}

// InstanceID tells replicas apart, e.g. to give each its own consumer group.
func InstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()[:8]
}
