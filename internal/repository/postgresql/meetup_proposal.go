package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

type MeetupProposalRepo struct {
	db db.DB
}

func NewMeetupProposalRepo(database db.DB) *MeetupProposalRepo {
	return &MeetupProposalRepo{db: database}
}

func (r *MeetupProposalRepo) Create(ctx context.Context, tx db.Tx, p *repository.MeetupProposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO meetup_proposals (
            id, recovery_event_id, proposed_by, location_name, latitude, longitude,
            proposed_datetime, status, message, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, p.ID, p.RecoveryEventID, p.ProposedBy, p.LocationName, p.Latitude, p.Longitude,
		p.ProposedDatetime, p.Status, p.Message, p.CreatedAt)
	return err
}

func (r *MeetupProposalRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.MeetupProposal, error) {
	var p repository.MeetupProposal
	err := r.db.Get(ctx, &p, "SELECT * FROM meetup_proposals WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetPending returns the single pending proposal for the event, or
// ErrObjectNotFound. The pending-uniqueness invariant is maintained by
// DeclinePending running in the same transaction as every Create.
func (r *MeetupProposalRepo) GetPending(ctx context.Context, eventID uuid.UUID) (*repository.MeetupProposal, error) {
	var p repository.MeetupProposal
	err := r.db.Get(ctx, &p, `
        SELECT * FROM meetup_proposals
        WHERE recovery_event_id = $1 AND status = 'pending'
        ORDER BY created_at DESC
        LIMIT 1
    `, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *MeetupProposalRepo) GetPendingTx(ctx context.Context, tx db.Tx, eventID uuid.UUID) (*repository.MeetupProposal, error) {
	var p repository.MeetupProposal
	err := tx.Get(ctx, &p, `
        SELECT * FROM meetup_proposals
        WHERE recovery_event_id = $1 AND status = 'pending'
        ORDER BY created_at DESC
        LIMIT 1
    `, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetAccepted returns the accepted proposal, if the meetup was confirmed.
func (r *MeetupProposalRepo) GetAccepted(ctx context.Context, eventID uuid.UUID) (*repository.MeetupProposal, error) {
	var p repository.MeetupProposal
	err := r.db.Get(ctx, &p, `
        SELECT * FROM meetup_proposals
        WHERE recovery_event_id = $1 AND status = 'accepted'
        ORDER BY created_at DESC
        LIMIT 1
    `, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// DeclinePending declines every pending proposal of the event. Called before
// inserting a counter-proposal and as part of accepting one, so at most one
// pending proposal ever exists.
func (r *MeetupProposalRepo) DeclinePending(ctx context.Context, tx db.Tx, eventID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
        UPDATE meetup_proposals
        SET status = 'declined'
        WHERE recovery_event_id = $1 AND status = 'pending'
    `, eventID)
	return err
}

func (r *MeetupProposalRepo) SetStatus(ctx context.Context, tx db.Tx, id uuid.UUID, status recovery.ProposalStatus) error {
	_, err := tx.Exec(ctx, `
        UPDATE meetup_proposals SET status = $1 WHERE id = $2
    `, status, id)
	return err
}
