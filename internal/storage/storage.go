package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/payment"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

// ChangeTopic is the outbox topic for recovery change notifications.
const ChangeTopic = "recovery-changes"

type RecoveryEventRepository interface {
	Create(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.RecoveryEvent, error)
	GetByIDForUpdate(ctx context.Context, tx db.Tx, id uuid.UUID) (*repository.RecoveryEvent, error)
	Update(ctx context.Context, tx db.Tx, ev *repository.RecoveryEvent) error
	GetActive(ctx context.Context) ([]*repository.RecoveryEvent, error)
	GetByParticipant(ctx context.Context, userID string) ([]*repository.RecoveryEvent, error)
}

type MeetupProposalRepository interface {
	Create(ctx context.Context, tx db.Tx, p *repository.MeetupProposal) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.MeetupProposal, error)
	GetPending(ctx context.Context, eventID uuid.UUID) (*repository.MeetupProposal, error)
	GetPendingTx(ctx context.Context, tx db.Tx, eventID uuid.UUID) (*repository.MeetupProposal, error)
	GetAccepted(ctx context.Context, eventID uuid.UUID) (*repository.MeetupProposal, error)
	DeclinePending(ctx context.Context, tx db.Tx, eventID uuid.UUID) error
	SetStatus(ctx context.Context, tx db.Tx, id uuid.UUID, status recovery.ProposalStatus) error
}

type DropOffRepository interface {
	Create(ctx context.Context, tx db.Tx, d *repository.DropOff) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*repository.DropOff, error)
}

type DiscRepository interface {
	GetByID(ctx context.Context, id string) (*repository.Disc, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
}

type HistoryRepository interface {
	Create(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) ([]*repository.HistoryEntry, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, tx db.Tx, p *repository.Payment) error
}

type OutboxTaskRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
}

// EventCache is the optional in-process read cache of active recovery rows.
type EventCache interface {
	Get(id uuid.UUID) (*repository.RecoveryEvent, bool)
	Set(ev *repository.RecoveryEvent)
}

// PostgresStorage orchestrates recovery transitions against the durable
// store. Every mutation runs in a transaction that locks the recovery row,
// re-evaluates the requested edge against the committed status, and writes
// the new status, side records, history entry and outbox task atomically.
type PostgresStorage struct {
	db        db.DB
	events    RecoveryEventRepository
	proposals MeetupProposalRepository
	dropoffs  DropOffRepository
	discs     DiscRepository
	users     UserRepository
	history   HistoryRepository
	payments  PaymentRepository
	outbox    OutboxTaskRepository
	provider  payment.Provider
	cache     EventCache
	logger    *zap.Logger
}

func NewPostgresStorage(
	database db.DB,
	events RecoveryEventRepository,
	proposals MeetupProposalRepository,
	dropoffs DropOffRepository,
	discs DiscRepository,
	users UserRepository,
	history HistoryRepository,
	payments PaymentRepository,
	outbox OutboxTaskRepository,
	provider payment.Provider,
	cache EventCache,
	logger *zap.Logger,
) *PostgresStorage {
	return &PostgresStorage{
		db:        database,
		events:    events,
		proposals: proposals,
		dropoffs:  dropoffs,
		discs:     discs,
		users:     users,
		history:   history,
		payments:  payments,
		outbox:    outbox,
		provider:  provider,
		cache:     cache,
		logger:    logger,
	}
}

// roleOf resolves the caller's role relative to the event.
func roleOf(ev *repository.RecoveryEvent, callerID string) (recovery.Role, error) {
	switch callerID {
	case ev.OwnerID:
		return recovery.RoleOwner, nil
	case ev.FinderID:
		return recovery.RoleFinder, nil
	}
	return recovery.RoleNone, recovery.ErrForbidden
}

// proposerRole maps the author of a proposal onto owner/finder.
func proposerRole(ev *repository.RecoveryEvent, p *repository.MeetupProposal) recovery.Role {
	if p == nil {
		return recovery.RoleNone
	}
	if p.ProposedBy == ev.OwnerID {
		return recovery.RoleOwner
	}
	return recovery.RoleFinder
}

// GetRecoveryDetails returns the caller's projection of the event.
func (s *PostgresStorage) GetRecoveryDetails(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := roleOf(ev, callerID); err != nil {
		return nil, err
	}
	return s.buildProjection(ctx, ev, callerID)
}

// GetRecoveryHistory returns the status journal, participants only.
func (s *PostgresStorage) GetRecoveryHistory(ctx context.Context, callerID string, eventID uuid.UUID) ([]HistoryView, error) {
	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := roleOf(ev, callerID); err != nil {
		return nil, err
	}

	entries, err := s.history.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery history: %w", err)
	}

	views := make([]HistoryView, len(entries))
	for i, e := range entries {
		role := recovery.RoleFinder
		if e.ChangedBy == ev.OwnerID {
			role = recovery.RoleOwner
		}
		views[i] = HistoryView{Status: e.Status, ChangedBy: role, ChangedAt: e.ChangedAt}
	}
	return views, nil
}

// ListRecoveries returns every recovery the caller participates in, as owner
// or as finder, newest first.
func (s *PostgresStorage) ListRecoveries(ctx context.Context, callerID string) ([]RecoverySummary, error) {
	events, err := s.events.GetByParticipant(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recoveries: %w", err)
	}

	summaries := make([]RecoverySummary, 0, len(events))
	for _, ev := range events {
		disc, err := s.discs.GetByID(ctx, ev.DiscID)
		if err != nil {
			return nil, fmt.Errorf("failed to get disc %s: %w", ev.DiscID, err)
		}
		role, err := roleOf(ev, callerID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, RecoverySummary{
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
			FoundAt:   ev.FoundAt,
			UpdatedAt: ev.UpdatedAt,
		})
	}
	return summaries, nil
}

// ReportFound opens a recovery case: a finder reports a disc they picked up.
// The new event starts in StatusFound and is announced on the change feed.
func (s *PostgresStorage) ReportFound(ctx context.Context, callerID, discID string, message *string) (*Projection, error) {
	disc, err := s.discs.GetByID(ctx, discID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("disc %s: %w", discID, repository.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get disc: %w", err)
	}
	if disc.OwnerID == callerID {
		return nil, fmt.Errorf("disc belongs to the reporter: %w", recovery.ErrForbidden)
	}

	now := time.Now().UTC()
	ev := &repository.RecoveryEvent{
		ID:            uuid.New(),
		DiscID:        disc.ID,
		OwnerID:       disc.OwnerID,
		FinderID:      callerID,
		Status:        recovery.StatusFound,
		FinderMessage: message,
		FoundAt:       now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := s.events.Create(ctx, tx, ev); err != nil {
		return nil, fmt.Errorf("failed to create recovery event: %w", err)
	}
	if err := s.history.Create(ctx, tx, &repository.HistoryEntry{
		RecoveryEventID: ev.ID,
		Status:          ev.Status,
		ChangedBy:       callerID,
		ChangedAt:       now,
	}); err != nil {
		return nil, fmt.Errorf("failed to journal status: %w", err)
	}
	if err := s.enqueueChange(ctx, tx, ev.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ev)
	}
	s.logger.Info("recovery reported",
		zap.String("recovery_event_id", ev.ID.String()),
		zap.String("disc_id", disc.ID),
		zap.String("finder_id", callerID))

	return s.buildProjection(ctx, ev, callerID)
}

func (s *PostgresStorage) loadEvent(ctx context.Context, eventID uuid.UUID) (*repository.RecoveryEvent, error) {
	if s.cache != nil {
		if ev, ok := s.cache.Get(eventID); ok {
			return ev, nil
		}
	}
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get recovery event: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(ev)
	}
	return ev, nil
}

func (s *PostgresStorage) enqueueChange(ctx context.Context, tx db.Tx, eventID uuid.UUID) error {
	payload, err := changePayload(eventID)
	if err != nil {
		return err
	}
	task := &repository.OutboxTask{Topic: ChangeTopic, Payload: payload}
	if err := s.outbox.CreateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("failed to enqueue change notification: %w", err)
	}
	return nil
}
