package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/repository"
)

type DiscRepo struct {
	db db.DB
}

func NewDiscRepo(database db.DB) *DiscRepo {
	return &DiscRepo{db: database}
}

func (r *DiscRepo) GetByID(ctx context.Context, id string) (*repository.Disc, error) {
	var d repository.Disc
	err := r.db.Get(ctx, &d, "SELECT * FROM discs WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DiscRepo) Create(ctx context.Context, d *repository.Disc) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO discs (id, owner_id, name, mold, color, reward_amount)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, d.ID, d.OwnerID, d.Name, d.Mold, d.Color, d.RewardAmount)
	return err
}
