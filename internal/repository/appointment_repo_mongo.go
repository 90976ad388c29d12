package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	appointmentsCollection = "appointments"
	vehiclesCollection     = "vehicles"
	countersCollection     = "counters"

	mongoSlotIndex = "active_slot_uidx"
)

type appointmentDocument struct {
	ID                  int64     `bson:"_id"`
	CustomerID          int64     `bson:"customerId"`
	VehicleID           int64     `bson:"vehicleId"`
	ServiceIDs          []int64   `bson:"serviceIds"`
	AppointmentDate     string    `bson:"appointmentDate,omitempty"`
	SessionPeriod       string    `bson:"sessionPeriod,omitempty"`
	SlotNumber          int       `bson:"slotNumber,omitempty"`
	SlotHeld            bool      `bson:"slotHeld"`
	Status              string    `bson:"status"`
	CustomerNotes       string    `bson:"customerNotes"`
	TechnicianNotes     string    `bson:"technicianNotes"`
	AssignedEmployeeIDs []int64   `bson:"assignedEmployeeIds"`
	Version             int       `bson:"version"`
	CreatedAt           time.Time `bson:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt"`
}

func toAppointmentDocument(a *domain.Appointment) appointmentDocument {
	doc := appointmentDocument{
		ID:                  a.ID,
		CustomerID:          a.CustomerID,
		VehicleID:           a.VehicleID,
		ServiceIDs:          nonNil(a.ServiceIDs),
		SlotHeld:            a.HoldsSlot(),
		Status:              string(a.Status),
		CustomerNotes:       a.CustomerNotes,
		TechnicianNotes:     a.TechnicianNotes,
		AssignedEmployeeIDs: nonNil(a.AssignedEmployeeIDs),
		Version:             a.Version,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
	if r := a.Reservation; r != nil {
		doc.AppointmentDate = r.Date.Format(calendar.DateFormat)
		doc.SessionPeriod = string(r.Session)
		doc.SlotNumber = r.SlotNumber
	}
	return doc
}

func (d appointmentDocument) toDomain() (*domain.Appointment, error) {
	a := &domain.Appointment{
		ID:                  d.ID,
		CustomerID:          d.CustomerID,
		VehicleID:           d.VehicleID,
		ServiceIDs:          d.ServiceIDs,
		Status:              domain.AppointmentStatus(d.Status),
		CustomerNotes:       d.CustomerNotes,
		TechnicianNotes:     d.TechnicianNotes,
		AssignedEmployeeIDs: d.AssignedEmployeeIDs,
		Version:             d.Version,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.AppointmentDate != "" {
		date, err := time.Parse(calendar.DateFormat, d.AppointmentDate)
		if err != nil {
			return nil, fmt.Errorf("appointment %d: bad stored date: %w", d.ID, err)
		}
		a.Reservation = &domain.Reservation{
			Date:       date,
			Session:    calendar.Session(d.SessionPeriod),
			SlotNumber: d.SlotNumber,
		}
	}
	return a, nil
}

type MongoAppointmentRepository struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

func NewMongoAppointmentRepository(db *mongo.Database) *MongoAppointmentRepository {
	return &MongoAppointmentRepository{
		coll:     db.Collection(appointmentsCollection),
		counters: db.Collection(countersCollection),
		now:      time.Now,
	}
}

// EnsureIndexes creates the slot uniqueness index. Only documents still holding
// their slot take part in it, so finished appointments stay as history.
func (r *MongoAppointmentRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "appointmentDate", Value: 1}, {Key: "sessionPeriod", Value: 1}, {Key: "slotNumber", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(mongoSlotIndex).
				SetPartialFilterExpression(bson.M{"slotHeld": true}),
		},
		{
			Keys:    bson.D{{Key: "customerId", Value: 1}, {Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("customer_updated_idx"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "appointmentDate", Value: 1}},
			Options: options.Index().SetName("status_date_idx"),
		},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create appointment indexes: %w", err)
	}
	return nil
}

func (r *MongoAppointmentRepository) Create(ctx context.Context, a *domain.Appointment) error {
	id, err := nextID(ctx, r.counters, appointmentsCollection)
	if err != nil {
		return err
	}
	now := r.now().UTC()

	created := *a
	created.ID = id
	created.Version = 0
	created.CreatedAt = now
	created.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, toAppointmentDocument(&created)); err != nil {
		if isSlotDuplicate(err) {
			return slotConflict(a)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = created
	return nil
}

// isSlotDuplicate tells a slot clash apart from other duplicate keys, such as an
// _id reused after the counters collection was reset.
func isSlotDuplicate(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), mongoSlotIndex)
}

func (r *MongoAppointmentRepository) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	var doc appointmentDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return doc.toDomain()
}

func (r *MongoAppointmentRepository) UpdateStatus(ctx context.Context, id int64, expectedVersion int, status domain.AppointmentStatus, technicianNotes *string) (*domain.Appointment, error) {
	set := bson.M{
		"status":    string(status),
		"updatedAt": r.now().UTC(),
	}
	if status.Terminal() {
		set["slotHeld"] = false
	}
	if technicianNotes != nil {
		set["technicianNotes"] = *technicianNotes
	}

	var doc appointmentDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrConcurrentUpdate)
}

func (r *MongoAppointmentRepository) AssignEmployees(ctx context.Context, id int64, employeeIDs []int64) (*domain.Appointment, error) {
	var doc appointmentDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"assignedEmployeeIds": nonNil(employeeIDs), "updatedAt": r.now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("assign employees: %w", err)
	}
	return doc.toDomain()
}

func (r *MongoAppointmentRepository) ReservedSlots(ctx context.Context, date time.Time, session calendar.Session) ([]int, error) {
	filter := bson.M{
		"appointmentDate": date.Format(calendar.DateFormat),
		"sessionPeriod":   string(session),
		"slotHeld":        true,
	}
	opts := options.Find().
		SetProjection(bson.M{"slotNumber": 1}).
		SetSort(bson.D{{Key: "slotNumber", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("reserved slots: %w", err)
	}
	defer cursor.Close(ctx)

	slots := make([]int, 0)
	for cursor.Next(ctx) {
		var doc struct {
			SlotNumber int `bson:"slotNumber"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		slots = append(slots, doc.SlotNumber)
	}
	return slots, cursor.Err()
}

func (r *MongoAppointmentRepository) List(ctx context.Context, filter ListFilter) ([]domain.Appointment, error) {
	query := bson.M{}
	if filter.CustomerID != 0 {
		query["customerId"] = filter.CustomerID
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": statusNames(filter.Statuses)}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(filter.limit()))
	return r.find(ctx, query, opts)
}

func (r *MongoAppointmentRepository) ListPendingBefore(ctx context.Context, date time.Time) ([]domain.Appointment, error) {
	query := bson.M{
		"status":          string(domain.StatusPending),
		"appointmentDate": bson.M{"$lt": date.Format(calendar.DateFormat), "$exists": true},
	}
	opts := options.Find().SetSort(bson.D{{Key: "appointmentDate", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, query, opts)
}

func (r *MongoAppointmentRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]domain.Appointment, error) {
	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []appointmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Appointment, 0, len(docs))
	for _, d := range docs {
		a, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// nextID hands out sequential int64 ids from the counters collection.
func nextID(ctx context.Context, counters *mongo.Collection, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return doc.Seq, nil
}

var _ AppointmentRepository = (*MongoAppointmentRepository)(nil)
