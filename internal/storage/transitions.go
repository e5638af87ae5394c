package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/metrics"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

func changePayload(eventID uuid.UUID) (json.RawMessage, error) {
	payload, err := json.Marshal(repository.RecoveryChanged{RecoveryEventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change payload: %w", err)
	}
	return payload, nil
}

// sideEffects mutates the event's child records inside the transition
// transaction, after the edge has been validated.
type sideEffects func(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent, pending *repository.MeetupProposal) error

// transition runs one lifecycle action end to end: lock the row, resolve the
// caller's role, re-evaluate the edge against the committed status, apply
// side effects, write the new status plus derived timestamps, journal it and
// enqueue the change notification. A request that lost a race sees the
// winner's status after the lock and fails with ErrInvalidTransition.
func (s *PostgresStorage) transition(ctx context.Context, callerID string, eventID uuid.UUID, action recovery.Action, apply sideEffects) (*repository.RecoveryEvent, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	ev, err := s.events.GetByIDForUpdate(ctx, tx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock recovery event: %w", err)
	}

	role, err := roleOf(ev, callerID)
	if err != nil {
		metrics.TransitionErrorsTotal.WithLabelValues("forbidden").Inc()
		return nil, err
	}

	var pending *repository.MeetupProposal
	if ev.Status == recovery.StatusMeetupProposed {
		pending, err = s.proposals.GetPendingTx(ctx, tx, ev.ID)
		if err != nil && !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("failed to get pending proposal: %w", err)
		}
	}

	next, err := recovery.Evaluate(ev.Status, role, action, proposerRole(ev, pending))
	if err != nil {
		reason := "invalid_transition"
		if errors.Is(err, recovery.ErrInvalidRole) {
			reason = "invalid_role"
		}
		metrics.TransitionErrorsTotal.WithLabelValues(reason).Inc()
		s.logger.Warn("transition rejected",
			zap.String("recovery_event_id", ev.ID.String()),
			zap.String("status", string(ev.Status)),
			zap.String("action", string(action)),
			zap.String("role", string(role)),
			zap.Error(err))
		return nil, err
	}

	if apply != nil {
		if err := apply(ctx, tx, ev, pending); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	prev := ev.Status
	ev.Status = next
	ev.UpdatedAt = now
	switch next {
	case recovery.StatusRecovered:
		ev.RecoveredAt = &now
	case recovery.StatusSurrendered:
		ev.SurrenderedAt = &now
	}

	if err := s.events.Update(ctx, tx, ev); err != nil {
		return nil, fmt.Errorf("failed to update recovery event: %w", err)
	}
	if err := s.history.Create(ctx, tx, &repository.HistoryEntry{
		RecoveryEventID: ev.ID,
		Status:          next,
		ChangedBy:       callerID,
		ChangedAt:       now,
	}); err != nil {
		return nil, fmt.Errorf("failed to journal status: %w", err)
	}
	if err := s.enqueueChange(ctx, tx, ev.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ev)
	}
	metrics.TransitionsTotal.WithLabelValues(string(action)).Inc()
	s.logger.Info("recovery transitioned",
		zap.String("recovery_event_id", ev.ID.String()),
		zap.String("action", string(action)),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("role", string(role)))

	return ev, nil
}

// ProposeMeetup creates a meetup offer, or counters the pending one. The
// counter declines the existing pending proposal and replaces it; the status
// stays meetup_proposed.
func (s *PostgresStorage) ProposeMeetup(ctx context.Context, callerID string, req ProposeMeetupRequest) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, req.RecoveryEventID, recovery.ActionProposeMeetup,
		func(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent, pending *repository.MeetupProposal) error {
			if pending != nil {
				if err := s.proposals.DeclinePending(ctx, tx, ev.ID); err != nil {
					return fmt.Errorf("failed to decline pending proposal: %w", err)
				}
			}
			proposal := &repository.MeetupProposal{
				ID:               uuid.New(),
				RecoveryEventID:  ev.ID,
				ProposedBy:       callerID,
				LocationName:     req.LocationName,
				Latitude:         req.Latitude,
				Longitude:        req.Longitude,
				ProposedDatetime: req.ProposedDatetime,
				Status:           recovery.ProposalPending,
				Message:          req.Message,
				CreatedAt:        time.Now().UTC(),
			}
			if err := s.proposals.Create(ctx, tx, proposal); err != nil {
				return fmt.Errorf("failed to create proposal: %w", err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// AcceptMeetup accepts a pending proposal by id. Any other pending proposal
// is declined in the same transaction.
func (s *PostgresStorage) AcceptMeetup(ctx context.Context, callerID string, proposalID uuid.UUID) (*Projection, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	ev, err := s.transition(ctx, callerID, proposal.RecoveryEventID, recovery.ActionAcceptMeetup,
		func(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent, pending *repository.MeetupProposal) error {
			// The id in the request must still be the pending one; a counter
			// that raced in means the caller accepted an offer that no longer
			// stands.
			if pending == nil || pending.ID != proposalID {
				return recovery.ErrInvalidTransition
			}
			if err := s.proposals.DeclinePending(ctx, tx, ev.ID); err != nil {
				return fmt.Errorf("failed to decline other proposals: %w", err)
			}
			if err := s.proposals.SetStatus(ctx, tx, proposalID, recovery.ProposalAccepted); err != nil {
				return fmt.Errorf("failed to accept proposal: %w", err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// CompleteRecovery is the owner confirming the disc came back at the meetup.
func (s *PostgresStorage) CompleteRecovery(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, eventID, recovery.ActionCompleteRecovery, nil)
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// SurrenderDisc is the owner giving up the disc before any drop-off.
func (s *PostgresStorage) SurrenderDisc(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, eventID, recovery.ActionSurrenderDisc, nil)
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// DropOffDisc records the physical drop-off location chosen by the finder.
func (s *PostgresStorage) DropOffDisc(ctx context.Context, callerID string, req DropOffRequest) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, req.RecoveryEventID, recovery.ActionDropOffDisc,
		func(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent, _ *repository.MeetupProposal) error {
			drop := &repository.DropOff{
				ID:              uuid.New(),
				RecoveryEventID: ev.ID,
				PhotoURL:        req.PhotoURL,
				Latitude:        req.Latitude,
				Longitude:       req.Longitude,
				LocationNotes:   req.LocationNotes,
				DroppedOffAt:    time.Now().UTC(),
			}
			if err := s.dropoffs.Create(ctx, tx, drop); err != nil {
				return fmt.Errorf("failed to create drop-off: %w", err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// MarkDiscRetrieved is the owner confirming pickup from the drop-off spot.
func (s *PostgresStorage) MarkDiscRetrieved(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, eventID, recovery.ActionMarkRetrieved, nil)
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// RelinquishDisc is the owner telling the finder to keep the dropped-off disc.
func (s *PostgresStorage) RelinquishDisc(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, eventID, recovery.ActionRelinquishDisc, nil)
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// AbandonDisc is the owner walking away from a dropped-off disc.
func (s *PostgresStorage) AbandonDisc(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	ev, err := s.transition(ctx, callerID, eventID, recovery.ActionAbandonDisc, nil)
	if err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}
