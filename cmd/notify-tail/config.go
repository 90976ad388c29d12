package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/notifyclient"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	catchUpJournal      = "journal"
	catchUpAppointments = "appointments"

	retryFixed       = "fixed"
	retryExponential = "exponential"
)

type tailConfig struct {
	Server     string
	UserID     int64
	Role       domain.Role
	StorePath  string
	Capacity   int
	CatchUp    string
	Retry      string
	RetryDelay time.Duration
	RetryMax   time.Duration
	List       bool
	MarkRead   bool
	LogLevel   string
}

// loadConfig reads flags, then NOTIFY_TAIL_* environment variables, then an
// optional config file. An explicitly set flag wins over everything else.
func loadConfig(args []string) (tailConfig, error) {
	fs := pflag.NewFlagSet("notify-tail", pflag.ContinueOnError)
	fs.String("config", "", "optional config file (yaml, json or toml)")
	fs.String("server", "http://localhost:8080", "API base URL")
	fs.Int64("user-id", 0, "user id sent as "+notifyclient.HeaderUserID)
	fs.String("role", string(domain.RoleCustomer), "CUSTOMER, EMPLOYEE or ADMIN")
	fs.String("store", "notifications.json", "file the notification list is kept in")
	fs.Int("capacity", notifyclient.DefaultCapacity, "maximum stored notifications")
	fs.String("catch-up", catchUpJournal, "backfill source after reconnect: journal or appointments")
	fs.String("retry", retryFixed, "reconnect policy: fixed or exponential")
	fs.Duration("retry-delay", notifyclient.DefaultRetryDelay, "reconnect delay, or base delay for exponential")
	fs.Duration("retry-max", time.Minute, "upper bound for exponential reconnect delay")
	fs.Bool("list", false, "print the stored notifications and exit")
	fs.Bool("mark-read", false, "mark all stored notifications read before starting")
	fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return tailConfig{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("NOTIFY_TAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return tailConfig{}, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return tailConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	role, err := domain.ParseRole(v.GetString("role"))
	if err != nil {
		return tailConfig{}, err
	}
	cfg := tailConfig{
		Server:     strings.TrimRight(v.GetString("server"), "/"),
		UserID:     v.GetInt64("user-id"),
		Role:       role,
		StorePath:  v.GetString("store"),
		Capacity:   v.GetInt("capacity"),
		CatchUp:    strings.ToLower(v.GetString("catch-up")),
		Retry:      strings.ToLower(v.GetString("retry")),
		RetryDelay: v.GetDuration("retry-delay"),
		RetryMax:   v.GetDuration("retry-max"),
		List:       v.GetBool("list"),
		MarkRead:   v.GetBool("mark-read"),
		LogLevel:   v.GetString("log-level"),
	}
	return cfg, cfg.validate()
}

func (c tailConfig) validate() error {
	if c.UserID <= 0 {
		return fmt.Errorf("user-id must be positive")
	}
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.CatchUp != catchUpJournal && c.CatchUp != catchUpAppointments {
		return fmt.Errorf("unknown catch-up source %q", c.CatchUp)
	}
	if c.Retry != retryFixed && c.Retry != retryExponential {
		return fmt.Errorf("unknown retry policy %q", c.Retry)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry-delay must be positive")
	}
	return nil
}

func (c tailConfig) identity() notifyclient.Identity {
	return notifyclient.Identity{UserID: c.UserID, Role: c.Role}
}

func (c tailConfig) retryPolicy() notifyclient.RetryPolicy {
	if c.Retry == retryExponential {
		return notifyclient.CappedExponential{Base: c.RetryDelay, Max: max(c.RetryMax, c.RetryDelay)}
	}
	return notifyclient.FixedDelay(c.RetryDelay)
}

func (c tailConfig) catchUp() notifyclient.CatchUp {
	if c.CatchUp == catchUpAppointments {
		return notifyclient.NewAppointmentCatchUp(c.Server, c.identity(), nil)
	}
	return notifyclient.NewJournalCatchUp(c.Server, c.identity(), nil)
}
