package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	CORSOrigins        []string
	RateLimitPerMinute int
}

type Handlers struct {
	Slots         *SlotHandler
	Appointments  *AppointmentHandler
	Notifications *NotificationHandler
}

// NewRouter mounts every handler behind the identity check. Routes that are
// not part of the API (health, docs) are added by the caller.
func NewRouter(cfg RouterConfig, log *zap.Logger, h Handlers) (*gin.Engine, error) {
	if err := RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log), CORS(cfg.CORSOrigins))

	authed := router.Group("/", Identity())
	if h.Slots != nil {
		h.Slots.Register(authed)
	}
	if h.Appointments != nil {
		h.Appointments.Register(authed.Group("/appointments"))
	}
	if h.Notifications != nil {
		h.Notifications.Register(authed.Group("/notifications"))
	}

	return router, nil
}

// NewBookingLimiter is the per-IP limiter applied to appointment creation.
func NewBookingLimiter(cfg RouterConfig, log *zap.Logger) gin.HandlerFunc {
	return NewRateLimiter(cfg.RateLimitPerMinute, log).Middleware()
}
