package postgresql

import (
	"context"

	"github.com/google/uuid"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/repository"
)

type HistoryRepo struct {
	db db.DB
}

func NewHistoryRepo(database db.DB) *HistoryRepo {
	return &HistoryRepo{db: database}
}

func (r *HistoryRepo) Create(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO recovery_history (recovery_event_id, status, changed_by, changed_at)
        VALUES ($1, $2, $3, $4)
    `, entry.RecoveryEventID, entry.Status, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (r *HistoryRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) ([]*repository.HistoryEntry, error) {
	var entries []*repository.HistoryEntry
	err := r.db.Select(ctx, &entries, `
        SELECT * FROM recovery_history
        WHERE recovery_event_id = $1
        ORDER BY changed_at ASC, id ASC
    `, eventID)
	return entries, err
}
