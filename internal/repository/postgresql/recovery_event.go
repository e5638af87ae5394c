package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/repository"
)

type RecoveryEventRepo struct {
	db db.DB
}

func NewRecoveryEventRepo(database db.DB) *RecoveryEventRepo {
	return &RecoveryEventRepo{db: database}
}

func (r *RecoveryEventRepo) Create(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO recovery_events (
            id, disc_id, owner_id, finder_id, status, finder_message,
            found_at, recovered_at, surrendered_at, reward_paid_at, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, ev.ID, ev.DiscID, ev.OwnerID, ev.FinderID, ev.Status, ev.FinderMessage,
		ev.FoundAt, ev.RecoveredAt, ev.SurrenderedAt, ev.RewardPaidAt, ev.CreatedAt, ev.UpdatedAt)
	return err
}

func (r *RecoveryEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.RecoveryEvent, error) {
	var ev repository.RecoveryEvent
	err := r.db.Get(ctx, &ev, "SELECT * FROM recovery_events WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// GetByIDForUpdate locks the recovery row for the duration of the
// transaction. The row is the unit of mutual exclusion between the two
// actors: a concurrent transition blocks here and is then re-evaluated
// against the committed status.
func (r *RecoveryEventRepo) GetByIDForUpdate(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.RecoveryEvent, error) {
	var ev repository.RecoveryEvent
	err := tx.Get(ctx, &ev, "SELECT * FROM recovery_events WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (r *RecoveryEventRepo) Update(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent) error {
	_, err := tx.Exec(ctx, `
        UPDATE recovery_events
        SET
            status = $1,
            finder_message = $2,
            recovered_at = $3,
            surrendered_at = $4,
            reward_paid_at = $5,
            updated_at = $6
        WHERE id = $7
    `, ev.Status, ev.FinderMessage, ev.RecoveredAt, ev.SurrenderedAt, ev.RewardPaidAt, ev.UpdatedAt, ev.ID)
	return err
}

// GetActive lists non-terminal recovery events, used to warm the read cache.
func (r *RecoveryEventRepo) GetActive(ctx context.Context) ([]*repository.RecoveryEvent, error) {
	var events []*repository.RecoveryEvent
	err := r.db.Select(ctx, &events, `
        SELECT * FROM recovery_events
        WHERE status NOT IN ('recovered', 'surrendered', 'abandoned', 'cancelled')
        ORDER BY created_at DESC
    `)
	return events, err
}

func (r *RecoveryEventRepo) GetByParticipant(ctx context.Context, userID string) ([]*repository.RecoveryEvent, error) {
	var events []*repository.RecoveryEvent
	err := r.db.Select(ctx, &events, `
        SELECT * FROM recovery_events
        WHERE owner_id = $1 OR finder_id = $1
        ORDER BY created_at DESC
    `, userID)
	return events, err
}
