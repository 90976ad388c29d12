package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Domenick1991/autoservice/config"
	"github.com/Domenick1991/autoservice/internal/bootstrap"
	"github.com/Domenick1991/autoservice/internal/email"
	"github.com/Domenick1991/autoservice/internal/kafka"
	"github.com/Domenick1991/autoservice/internal/logger"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/reminder"
	"github.com/Domenick1991/autoservice/internal/service/appointment"
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
		zl.Fatal("worker error", zap.Error(err))
	}
	zl.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	deps, err := bootstrap.Open(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer deps.Close()

	if deps.Producer == nil {
		zl.Warn("kafka is not configured, worker notifications only reach the journal")
	}
	dispatcher := notify.NewDispatcher(
		deps.Publisher(notify.NewHub(1, zl.Named("hub"))),
		notify.WithJournal(deps.Journal(cfg.Notifications.JournalSize)),
		notify.WithLogger(zl.Named("dispatcher")),
	)

	queue := notify.NewQueue(dispatcher, cfg.Notifications.QueueSize, cfg.Notifications.DeliveryTimeout(), zl.Named("queue"))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notifications.DeliveryTimeout())
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			zl.Warn("notification queue not drained", zap.Error(err))
		}
	}()

	opts := []appointment.Option{
		appointment.WithNotifier(queue),
		appointment.WithCommitTimeout(cfg.Booking.CommitTimeout()),
		appointment.WithLogger(zl.Named("appointments")),
	}
	if deps.Cache != nil {
		opts = append(opts, appointment.WithCache(deps.Cache))
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.Reminder.Enabled {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.QueueDB}

		client := asynq.NewClient(redisOpt)
		defer client.Close()
		opts = append(opts, appointment.WithReminders(
			reminder.NewScheduler(client, deps.Calendar, cfg.Reminder.Lead(), zl.Named("reminders")),
		))

		srv := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Logger:      zl.Named("asynq").Sugar(),
		})
		mux := reminder.NewServeMux(reminder.NewHandler(deps.Appointments, dispatcher, zl.Named("reminders")))
		if err := srv.Start(mux); err != nil {
			return err
		}
		defer srv.Shutdown()
	}

	appointmentService := appointment.NewAppointmentService(deps.Appointments, deps.Vehicles, deps.Calendar, opts...)

	if deps.Producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, zl.Named("consumer"))
		defer consumer.Close()
		sender := email.NewSender(zl.Named("email"))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Consume(ctx, sender.Handle); err != nil {
				zl.Error("consumer stopped", zap.Error(err))
			}
		}()
	}

	sweep := func() {
		cancelled, err := appointmentService.CancelStalePending(ctx)
		if err != nil {
			zl.Error("cancel stale appointments", zap.Error(err))
			return
		}
		if len(cancelled) > 0 {
			zl.Info("cancelled stale appointments", zap.Int("count", len(cancelled)))
		}
	}

	ticker := time.NewTicker(time.Duration(cfg.Worker.StaleSweepMinutes) * time.Minute)
	defer ticker.Stop()

	sweep()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			return nil
		}
	}
}
