package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGVehicleRepository struct {
	db *pgxpool.Pool
}

func NewVehicleRepository(db *pgxpool.Pool) VehicleRepository {
	return &PGVehicleRepository{db: db}
}

func (r *PGVehicleRepository) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	row := r.db.QueryRow(ctx, `SELECT id, customer_id, plate, make, model, created_at FROM vehicles WHERE id=$1`, id)
	var v domain.Vehicle
	if err := row.Scan(&v.ID, &v.CustomerID, &v.Plate, &v.Make, &v.Model, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vehicle %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return &v, nil
}

func (r *PGVehicleRepository) IsOwnedBy(ctx context.Context, vehicleID, customerID int64) (bool, error) {
	var owned bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE id=$1 AND customer_id=$2)`, vehicleID, customerID).Scan(&owned); err != nil {
		return false, fmt.Errorf("check vehicle owner: %w", err)
	}
	return owned, nil
}

var _ VehicleRepository = (*PGVehicleRepository)(nil)
