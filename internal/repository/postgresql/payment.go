package postgresql

import (
	"context"

	"github.com/google/uuid"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/repository"
)

type PaymentRepo struct {
	db db.DB
}

func NewPaymentRepo(database db.DB) *PaymentRepo {
	return &PaymentRepo{db: database}
}

func (r *PaymentRepo) Create(ctx context.Context, tx db.Tx, p *repository.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO payments (id, recovery_event_id, payer_id, method, amount, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, p.ID, p.RecoveryEventID, p.PayerID, p.Method, p.Amount, p.RecordedAt)
	return err
}
