package notifyclient

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"go.uber.org/zap"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Stream yields live events until it fails or the server closes it.
type Stream interface {
	Next(ctx context.Context) (domain.NotificationEvent, error)
	Close() error
}

type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}

// CatchUp lists events the client may have missed while disconnected.
type CatchUp interface {
	Recent(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
}

type RetryPolicy interface {
	// Delay is the wait before reconnect attempt n, starting at 1.
	Delay(attempt int) time.Duration
}

type FixedDelay time.Duration

func (d FixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

type CappedExponential struct {
	Base time.Duration
	Max  time.Duration
}

func (p CappedExponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return min(d, p.Max)
}

const DefaultRetryDelay = 5 * time.Second

// Client keeps a Store in sync with the server. Each time it reaches
// CONNECTED it first backfills through CatchUp, then ingests the live stream.
type Client struct {
	store     *Store
	transport Transport
	catchUp   CatchUp
	retry     RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
	onEvent   func(domain.NotificationEvent)
	onState   func(State)
	log       *zap.Logger

	mu    sync.Mutex
	state State
}

type ClientOption func(*Client)

func WithCatchUp(catchUp CatchUp) ClientOption {
	return func(c *Client) {
		c.catchUp = catchUp
	}
}

func WithRetryPolicy(retry RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = retry
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func WithOnEvent(fn func(domain.NotificationEvent)) ClientOption {
	return func(c *Client) {
		c.onEvent = fn
	}
}

func WithOnState(fn func(State)) ClientOption {
	return func(c *Client) {
		c.onState = fn
	}
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(store *Store, transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		store:     store,
		transport: transport,
		retry:     FixedDelay(DefaultRetryDelay),
		sleep:     sleepContext,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and reconnects until ctx is done. It returns nil on
// cancellation; connection failures are retried, never returned.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		c.setState(Connecting)
		stream, err := c.transport.Connect(ctx)
		if err == nil {
			attempt = 0
			c.setState(Connected)
			c.backfill(ctx)
			err = c.consume(ctx, stream)
		}
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		delay := c.retry.Delay(attempt)
		c.log.Warn("notification channel down, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (c *Client) backfill(ctx context.Context) {
	if c.catchUp == nil {
		return
	}
	events, err := c.catchUp.Recent(ctx, CatchUpWindow)
	if err != nil {
		c.log.Warn("catch-up failed", zap.Error(err))
		return
	}
	added, err := c.store.Merge(events)
	if err != nil {
		c.log.Warn("persist notifications", zap.Error(err))
	}
	c.log.Debug("catch-up merged", zap.Int("received", len(events)), zap.Int("added", added))
}

func (c *Client) consume(ctx context.Context, stream Stream) error {
	defer stream.Close()
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := c.store.Ingest(event); err != nil {
			c.log.Warn("persist notifications", zap.Error(err))
		}
		if c.onEvent != nil {
			c.onEvent(event)
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	c.store.SetConnected(s == Connected)
	if changed && c.onState != nil {
		c.onState(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
