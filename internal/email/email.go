package email

import (
	"context"
	"strconv"
	"strings"

	"github.com/Domenick1991/autoservice/internal/domain"
	"go.uber.org/zap"
)

// customerTopicPrefix is the canonical customer alias. Events reach every alias,
// so mailing from just this one sends each event once.
const customerTopicPrefix = "/topic/notifications/customer/"

type Sender struct {
	log *zap.Logger
}

func NewSender(log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{log: log}
}

// Handle is a kafka.EventHandler. It mails customers about their own events
// and ignores everything else.
func (s *Sender) Handle(ctx context.Context, destination string, event domain.NotificationEvent) error {
	customerID, ok := CustomerFromTopic(destination)
	if !ok {
		return nil
	}
	return s.Send(ctx, customerID, event)
}

func (s *Sender) Send(_ context.Context, customerID int64, event domain.NotificationEvent) error {
	s.log.Info("send email",
		zap.Int64("customer_id", customerID),
		zap.String("subject", event.Title),
		zap.String("body", event.Message),
		zap.Int64("appointment_id", event.AppointmentID),
		zap.String("event_id", event.ID))
	return nil
}

func CustomerFromTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, customerTopicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
