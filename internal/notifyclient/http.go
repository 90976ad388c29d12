package notifyclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	notificationEvent = "notification"
)

// Identity is sent on every request; an upstream gateway vouches for it.
type Identity struct {
	UserID int64
	Role   domain.Role
}

func (id Identity) apply(req *http.Request) {
	req.Header.Set(HeaderUserID, strconv.FormatInt(id.UserID, 10))
	req.Header.Set(HeaderUserRole, string(id.Role))
}

type HTTPTransport struct {
	baseURL  string
	identity Identity
	client   *http.Client
}

// NewHTTPTransport uses a client without timeout; the stream lives until ctx ends.
func NewHTTPTransport(baseURL string, identity Identity, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), identity: identity, client: client}
}

func (t *HTTPTransport) Connect(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/notifications/stream", nil)
	if err != nil {
		return nil, err
	}
	t.identity.apply(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream returned %s", domain.ErrChannelDisconnected, resp.Status)
	}
	return NewSSEStream(resp.Body), nil
}

// SSEStream decodes "notification" events from a text/event-stream body.
type SSEStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func NewSSEStream(body io.ReadCloser) *SSEStream {
	return &SSEStream{body: body, reader: bufio.NewReader(body)}
}

func (s *SSEStream) Next(ctx context.Context) (domain.NotificationEvent, error) {
	var (
		name string
		data strings.Builder
	)
	for {
		if err := ctx.Err(); err != nil {
			return domain.NotificationEvent{}, err
		}
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				err = domain.ErrChannelDisconnected
			}
			return domain.NotificationEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 && (name == "" || name == notificationEvent) {
				var event domain.NotificationEvent
				if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
					return domain.NotificationEvent{}, fmt.Errorf("decode notification: %w", err)
				}
				return event, nil
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(value)
			}
		}
	}
}

func (s *SSEStream) Close() error {
	return s.body.Close()
}

// JournalCatchUp reads the server's recent-event journal for the identity.
type JournalCatchUp struct {
	baseURL  string
	identity Identity
	client   *http.Client
}

func NewJournalCatchUp(baseURL string, identity Identity, client *http.Client) *JournalCatchUp {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JournalCatchUp{baseURL: strings.TrimRight(baseURL, "/"), identity: identity, client: client}
}

func (c *JournalCatchUp) Recent(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	var events []domain.NotificationEvent
	if err := getJSON(ctx, c.client, c.baseURL+"/notifications/recent?"+q.Encode(), c.identity, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// AppointmentCatchUp backfills from the caller's SCHEDULED appointments,
// rebuilding each one's latest event with the same id the server used.
type AppointmentCatchUp struct {
	baseURL  string
	identity Identity
	client   *http.Client
}

func NewAppointmentCatchUp(baseURL string, identity Identity, client *http.Client) *AppointmentCatchUp {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &AppointmentCatchUp{baseURL: strings.TrimRight(baseURL, "/"), identity: identity, client: client}
}

type appointmentPayload struct {
	ID              int64     `json:"id"`
	CustomerID      int64     `json:"customerId"`
	VehicleID       int64     `json:"vehicleId"`
	AppointmentDate string    `json:"appointmentDate"`
	SessionPeriod   string    `json:"sessionPeriod"`
	SlotNumber      int       `json:"slotNumber"`
	Status          string    `json:"status"`
	Version         int       `json:"version"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (c *AppointmentCatchUp) Recent(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	q := url.Values{
		"status": {string(domain.StatusScheduled)},
		"limit":  {strconv.Itoa(limit)},
	}
	var payload []appointmentPayload
	if err := getJSON(ctx, c.client, c.baseURL+"/appointments?"+q.Encode(), c.identity, &payload); err != nil {
		return nil, err
	}

	events := make([]domain.NotificationEvent, 0, len(payload))
	for _, p := range payload {
		a := domain.Appointment{
			ID:         p.ID,
			CustomerID: p.CustomerID,
			VehicleID:  p.VehicleID,
			Status:     domain.AppointmentStatus(p.Status),
			Version:    p.Version,
			UpdatedAt:  p.UpdatedAt,
		}
		if date, err := time.Parse(calendar.DateFormat, p.AppointmentDate); err == nil {
			a.Reservation = &domain.Reservation{Date: date, Session: calendar.Session(p.SessionPeriod), SlotNumber: p.SlotNumber}
		}
		ev := domain.LatestEvent(&a)
		ev.TargetRole = c.identity.Role
		events = append(events, ev)
	}
	return events, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, identity Identity, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	identity.apply(req)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", rawURL, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ CatchUp   = (*JournalCatchUp)(nil)
	_ CatchUp   = (*AppointmentCatchUp)(nil)
)
