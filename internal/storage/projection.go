package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

// buildProjection assembles the role-specific read view. The affordance list
// is computed by the state machine core, so the read path can never disagree
// with the write path about what the caller may do next.
func (s *PostgresStorage) buildProjection(ctx context.Context, ev *repository.RecoveryEvent, callerID string) (*Projection, error) {
	role, err := roleOf(ev, callerID)
	if err != nil {
		return nil, err
	}

	disc, err := s.discs.GetByID(ctx, ev.DiscID)
	if err != nil {
		return nil, fmt.Errorf("failed to get disc: %w", err)
	}
	owner, err := s.users.GetByID(ctx, ev.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}
	finder, err := s.users.GetByID(ctx, ev.FinderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get finder: %w", err)
	}

	proposal, err := s.proposals.GetPending(ctx, ev.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("failed to get pending proposal: %w", err)
		}
		proposal, err = s.proposals.GetAccepted(ctx, ev.ID)
		if err != nil && !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("failed to get accepted proposal: %w", err)
		}
	}

	drop, err := s.dropoffs.GetByEventID(ctx, ev.ID)
	if err != nil && !errors.Is(err, repository.ErrObjectNotFound) {
		return nil, fmt.Errorf("failed to get drop-off: %w", err)
	}

	return assembleProjection(ev, disc, owner, finder, proposal, drop, role), nil
}

// assembleProjection is the pure part of the builder, shared with the
// file-backed storage.
func assembleProjection(
	ev *repository.RecoveryEvent,
	disc *repository.Disc,
	owner, finder *repository.User,
	proposal *repository.MeetupProposal,
	drop *repository.DropOff,
	role recovery.Role,
) *Projection {
	proj := &Projection{
		ID:       ev.ID,
		Status:   ev.Status,
		UserRole: role,
		Disc: DiscSummary{
			ID:           disc.ID,
			Name:         disc.Name,
			Mold:         disc.Mold,
			Color:        disc.Color,
			RewardAmount: disc.RewardAmount,
		},
		Owner:         Participant{ID: owner.ID, Username: owner.Username, IsYou: role == recovery.RoleOwner},
		Finder:        Participant{ID: finder.ID, Username: finder.Username, IsYou: role == recovery.RoleFinder},
		FinderMessage: ev.FinderMessage,
		FoundAt:       ev.FoundAt,
		RecoveredAt:   ev.RecoveredAt,
		SurrenderedAt: ev.SurrenderedAt,
	}

	pendingProposer := recovery.RoleNone
	if proposal != nil {
		view := &ProposalView{
			ID:               proposal.ID,
			ProposedByRole:   recovery.RoleFinder,
			LocationName:     proposal.LocationName,
			Latitude:         proposal.Latitude,
			Longitude:        proposal.Longitude,
			ProposedDatetime: proposal.ProposedDatetime,
			Status:           proposal.Status,
			Message:          proposal.Message,
		}
		if proposal.ProposedBy == owner.ID {
			view.ProposedByRole = recovery.RoleOwner
		}
		proj.MeetupProposal = view
		if proposal.Status == recovery.ProposalPending {
			pendingProposer = view.ProposedByRole
		}
	}

	if drop != nil {
		proj.DropOff = &DropOffView{
			PhotoURL:      drop.PhotoURL,
			Latitude:      drop.Latitude,
			Longitude:     drop.Longitude,
			LocationNotes: drop.LocationNotes,
			DroppedOffAt:  drop.DroppedOffAt,
		}
	}

	if disc.RewardAmount > 0 {
		proj.Reward = &RewardView{
			Amount:        disc.RewardAmount,
			PaidAt:        ev.RewardPaidAt,
			FinderPayable: finder.PaymentCapable,
			VenmoHandle:   finder.VenmoHandle,
		}
	}

	proj.AllowedActions = recovery.PermittedActions(ev.Status, role, pendingProposer)
	proj.AllowedActions = append(proj.AllowedActions, recovery.RewardActions(ev.Status, role, recovery.RewardState{
		Amount:        disc.RewardAmount,
		Paid:          ev.RewardPaidAt != nil,
		FinderPayable: finder.PaymentCapable,
	})...)

	return proj
}
