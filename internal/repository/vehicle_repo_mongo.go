package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type vehicleDocument struct {
	ID         int64     `bson:"_id"`
	CustomerID int64     `bson:"customerId"`
	Plate      string    `bson:"plate"`
	Make       string    `bson:"make"`
	Model      string    `bson:"model"`
	CreatedAt  time.Time `bson:"createdAt"`
}

type MongoVehicleRepository struct {
	coll *mongo.Collection
}

func NewMongoVehicleRepository(db *mongo.Database) *MongoVehicleRepository {
	return &MongoVehicleRepository{coll: db.Collection(vehiclesCollection)}
}

func (r *MongoVehicleRepository) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	var doc vehicleDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("vehicle %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return &domain.Vehicle{
		ID:         doc.ID,
		CustomerID: doc.CustomerID,
		Plate:      doc.Plate,
		Make:       doc.Make,
		Model:      doc.Model,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

func (r *MongoVehicleRepository) IsOwnedBy(ctx context.Context, vehicleID, customerID int64) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": vehicleID, "customerId": customerID})
	if err != nil {
		return false, fmt.Errorf("check vehicle owner: %w", err)
	}
	return n > 0, nil
}

var _ VehicleRepository = (*MongoVehicleRepository)(nil)
