package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/autoservice/api"
	"github.com/Domenick1991/autoservice/config"
	"github.com/Domenick1991/autoservice/internal/bootstrap"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/kafka"
	"github.com/Domenick1991/autoservice/internal/logger"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/reminder"
	"github.com/Domenick1991/autoservice/internal/service/appointment"
	"github.com/Domenick1991/autoservice/internal/service/availability"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	deps, err := bootstrap.Open(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer deps.Close()

	hub := notify.NewHub(cfg.Notifications.SubscriberBuffer, zl.Named("hub"))
	dispatcher := notify.NewDispatcher(
		deps.Publisher(hub),
		notify.WithJournal(deps.Journal(cfg.Notifications.JournalSize)),
		notify.WithLogger(zl.Named("dispatcher")),
	)

	// with kafka in between, live events reach the hub through a relay that
	// every replica runs in its own consumer group. A fresh group starts at the
	// tail; clients recover older events through catch-up.
	if deps.Producer != nil {
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.RelayGroupID, bootstrap.InstanceID())
		relay := kafka.NewConsumer(cfg.Kafka.Brokers, groupID, cfg.Kafka.NotificationsTopic, zl.Named("relay"), kafka.FromLatest())
		defer relay.Close()
		go func() {
			err := relay.Consume(ctx, func(ctx context.Context, destination string, event domain.NotificationEvent) error {
				return hub.Publish(ctx, destination, event)
			})
			if err != nil {
				zl.Error("notification relay stopped", zap.Error(err))
			}
		}()
	}

	// bookings return once committed; delivery happens behind the queue
	queue := notify.NewQueue(dispatcher, cfg.Notifications.QueueSize, cfg.Notifications.DeliveryTimeout(), zl.Named("queue"))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notifications.DeliveryTimeout())
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			zl.Warn("notification queue not drained", zap.Error(err))
		}
	}()

	availabilityOpts := []availability.Option{availability.WithLogger(zl.Named("availability"))}
	appointmentOpts := []appointment.Option{
		appointment.WithNotifier(queue),
		appointment.WithCommitTimeout(cfg.Booking.CommitTimeout()),
		appointment.WithLogger(zl.Named("appointments")),
	}
	if deps.Cache != nil {
		availabilityOpts = append(availabilityOpts, availability.WithCache(deps.Cache))
		appointmentOpts = append(appointmentOpts, appointment.WithCache(deps.Cache))
	}
	if cfg.Reminder.Enabled {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.QueueDB})
		defer client.Close()
		appointmentOpts = append(appointmentOpts, appointment.WithReminders(
			reminder.NewScheduler(client, deps.Calendar, cfg.Reminder.Lead(), zl.Named("reminders")),
		))
	}

	availabilityService := availability.NewAvailabilityService(deps.Appointments, deps.Calendar, availabilityOpts...)
	appointmentService := appointment.NewAppointmentService(deps.Appointments, deps.Vehicles, deps.Calendar, appointmentOpts...)

	if cfg.Log.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	routerCfg := api.RouterConfig{
		CORSOrigins:        cfg.HTTP.CORSOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
	}
	router, err := api.NewRouter(routerCfg, zl.Named("http"), api.Handlers{
		Slots:         api.NewSlotHandler(availabilityService),
		Appointments:  api.NewAppointmentHandler(appointmentService, api.NewBookingLimiter(routerCfg, zl.Named("ratelimit"))),
		Notifications: api.NewNotificationHandler(hub, dispatcher, cfg.Notifications.Heartbeat()),
	})
	if err != nil {
		return err
	}

	return bootstrap.Run(ctx, cfg, router, zl, deps.Checks...)
}
