package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/repository"
)

type UserRepo struct {
	db db.DB
}

func NewUserRepo(database db.DB) *UserRepo {
	return &UserRepo{db: database}
}

func (r *UserRepo) Create(ctx context.Context, u *repository.User, password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
        INSERT INTO users (id, username, password, token, venmo_handle, payment_capable)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, u.ID, u.Username, string(hashedPassword), u.Token, u.VenmoHandle, u.PaymentCapable)
	return err
}

// GetByToken resolves a bearer token to the account it was issued to. Token
// minting itself is handled by the identity provider; the service only needs
// the mapping.
func (r *UserRepo) GetByToken(ctx context.Context, token string) (*repository.User, error) {
	var u repository.User
	err := r.db.Get(ctx, &u, "SELECT * FROM users WHERE token = $1", token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	var u repository.User
	err := r.db.Get(ctx, &u, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) ValidateUser(ctx context.Context, username, password string) (bool, error) {
	var hashedPassword string
	err := r.db.ExecQueryRow(ctx,
		"SELECT password FROM users WHERE username = $1", username).Scan(&hashedPassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}
