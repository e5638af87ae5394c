package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/repository"
)

type DropOffRepo struct {
	db db.DB
}

func NewDropOffRepo(database db.DB) *DropOffRepo {
	return &DropOffRepo{db: database}
}

func (r *DropOffRepo) Create(ctx context.Context, tx db.Tx, d *repository.DropOff) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO dropoffs (
            id, recovery_event_id, photo_url, latitude, longitude, location_notes, dropped_off_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, d.ID, d.RecoveryEventID, d.PhotoURL, d.Latitude, d.Longitude, d.LocationNotes, d.DroppedOffAt)
	return err
}

func (r *DropOffRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) (*repository.DropOff, error) {
	var d repository.DropOff
	err := r.db.Get(ctx, &d, "SELECT * FROM dropoffs WHERE recovery_event_id = $1", eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &d, nil
}
