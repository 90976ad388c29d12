package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	defaultHeartbeat   = 15 * time.Second

	notificationEventName = "notification"

	// ids remembered per stream so topic aliases reach the client once
	streamDedupWindow = 64
)

type Subscriber interface {
	Subscribe(topics ...string) *notify.Subscription
}

type RecentNotifications interface {
	Recent(ctx context.Context, target notify.Target, limit int) ([]domain.NotificationEvent, error)
	Routes() notify.RoutingTable
}

type NotificationHandler struct {
	hub       Subscriber
	recent    RecentNotifications
	heartbeat time.Duration
}

func NewNotificationHandler(hub Subscriber, recent RecentNotifications, heartbeat time.Duration) *NotificationHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &NotificationHandler{hub: hub, recent: recent, heartbeat: heartbeat}
}

func (h *NotificationHandler) Register(router *gin.RouterGroup) {
	router.GET("/stream", h.stream)
	router.GET("/recent", h.listRecent)
}

func targetOf(actor domain.Actor) notify.Target {
	return notify.Target{Role: actor.Role, UserID: actor.ID}
}

// stream is a server-sent event channel carrying every topic the caller's
// role listens on.
func (h *NotificationHandler) stream(c *gin.Context) {
	topics := h.recent.Routes().Topics(targetOf(actorFrom(c)))
	sub := h.hub.Subscribe(topics...)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	seen := newRecentIDs(streamDedupWindow)
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			if seen.add(ev.ID) {
				c.Render(-1, sse.Event{Id: ev.ID, Event: notificationEventName, Data: ev})
			}
			return true
		case <-ticker.C:
			_, err := fmt.Fprint(w, ": heartbeat\n\n")
			return err == nil
		}
	})
}

func (h *NotificationHandler) listRecent(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, fmt.Errorf("%w: invalid limit %q", domain.ErrInvalidRequest, raw))
			return
		}
		limit = min(n, maxRecentLimit)
	}

	events, err := h.recent.Recent(c.Request.Context(), targetOf(actorFrom(c)), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// recentIDs is a fixed-size set that forgets the oldest id first.
type recentIDs struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentIDs(size int) *recentIDs {
	return &recentIDs{ids: make(map[string]struct{}, size), ring: make([]string, size)}
}

// add reports whether id was not seen yet.
func (r *recentIDs) add(id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return true
}
