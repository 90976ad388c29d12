package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/logger"
	"github.com/Domenick1991/autoservice/internal/notifyclient"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("notify-tail: %v", err)
	}

	zl, err := logger.New("development", cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, zl); err != nil {
		zl.Fatal("notify-tail stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg tailConfig, out io.Writer, zl *zap.Logger) error {
	store, err := notifyclient.NewStore(cfg.Capacity, notifyclient.NewFilePersistence(cfg.StorePath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if cfg.MarkRead {
		if err := store.MarkAllRead(); err != nil {
			return err
		}
	}
	if cfg.List {
		printList(out, store)
		return nil
	}

	client := notifyclient.NewClient(
		store,
		notifyclient.NewHTTPTransport(cfg.Server, cfg.identity(), nil),
		notifyclient.WithCatchUp(cfg.catchUp()),
		notifyclient.WithRetryPolicy(cfg.retryPolicy()),
		notifyclient.WithOnEvent(func(ev domain.NotificationEvent) {
			printEvent(out, ev)
		}),
		notifyclient.WithOnState(func(s notifyclient.State) {
			zl.Info("connection state", zap.Stringer("state", s), zap.Int("unread", store.UnreadCount()))
		}),
		notifyclient.WithLogger(zl),
	)
	return client.Run(ctx)
}

func printEvent(out io.Writer, ev domain.NotificationEvent) {
	marker := "*"
	if ev.Read {
		marker = " "
	}
	fmt.Fprintf(out, "%s %s  %-22s  %s: %s\n", marker, ev.Timestamp.Local().Format("2006-01-02 15:04"), ev.Type, ev.Title, ev.Message)
}

func printList(out io.Writer, store *notifyclient.Store) {
	events := store.List()
	fmt.Fprintf(out, "%d notifications, %d unread\n", len(events), store.UnreadCount())
	for _, ev := range events {
		printEvent(out, ev)
	}
}
