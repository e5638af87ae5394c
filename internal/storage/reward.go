package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/metrics"
	"github.com/discbound/recovery/internal/payment"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

// The reward settlement is layered on top of a recovered event and never
// touches the status field. reward_paid_at is set at most once; both actors
// may race to record it, so a second attempt is a no-op success rather than
// an error.

type rewardContext struct {
	ev   *repository.RecoveryEvent
	disc *repository.Disc
	role recovery.Role
}

func (s *PostgresStorage) loadRewardContext(ctx context.Context, tx db.Tx, callerID string, eventID uuid.UUID) (*rewardContext, error) {
	ev, err := s.events.GetByIDForUpdate(ctx, tx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock recovery event: %w", err)
	}
	role, err := roleOf(ev, callerID)
	if err != nil {
		return nil, err
	}
	disc, err := s.discs.GetByID(ctx, ev.DiscID)
	if err != nil {
		return nil, fmt.Errorf("failed to get disc: %w", err)
	}
	if ev.Status != recovery.StatusRecovered || disc.RewardAmount <= 0 {
		return nil, recovery.ErrInvalidTransition
	}
	return &rewardContext{ev: ev, disc: disc, role: role}, nil
}

func (s *PostgresStorage) settleReward(ctx context.Context, tx db.Tx, rc *rewardContext, method repository.PaymentMethod) error {
	now := time.Now().UTC()
	rc.ev.RewardPaidAt = &now
	rc.ev.UpdatedAt = now
	if err := s.events.Update(ctx, tx, rc.ev); err != nil {
		return fmt.Errorf("failed to set reward_paid_at: %w", err)
	}
	if err := s.payments.Create(ctx, tx, &repository.Payment{
		ID:              uuid.New(),
		RecoveryEventID: rc.ev.ID,
		PayerID:         rc.ev.OwnerID,
		Method:          method,
		Amount:          rc.disc.RewardAmount,
		RecordedAt:      now,
	}); err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return s.enqueueChange(ctx, tx, rc.ev.ID)
}

// MarkRewardPaid is the finder attesting that the owner paid the reward out
// of band (Venmo). Only the finder may self-attest receipt.
func (s *PostgresStorage) MarkRewardPaid(ctx context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	rc, err := s.loadRewardContext(ctx, tx, callerID, eventID)
	if err != nil {
		return nil, err
	}
	if rc.role != recovery.RoleFinder {
		return nil, recovery.ErrInvalidRole
	}

	if rc.ev.RewardPaidAt != nil {
		// Already settled: keep the first timestamp.
		return s.buildProjection(ctx, rc.ev, callerID)
	}

	if err := s.settleReward(ctx, tx, rc, repository.PaymentMethodVenmo); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(rc.ev)
	}
	metrics.RewardsSettledTotal.WithLabelValues(string(repository.PaymentMethodVenmo)).Inc()
	s.logger.Info("reward marked paid",
		zap.String("recovery_event_id", eventID.String()),
		zap.Int("amount", rc.disc.RewardAmount))

	return s.buildProjection(ctx, rc.ev, callerID)
}

// SendRewardPayment starts a card checkout with the payment provider and
// returns the checkout URL. reward_paid_at is only set once the provider
// confirms via ConfirmRewardPayment; a provider failure leaves the event in
// recovered and the call retryable.
func (s *PostgresStorage) SendRewardPayment(ctx context.Context, callerID string, eventID uuid.UUID) (string, *Projection, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	rc, err := s.loadRewardContext(ctx, tx, callerID, eventID)
	if err != nil {
		return "", nil, err
	}
	if rc.role != recovery.RoleOwner {
		return "", nil, recovery.ErrInvalidRole
	}

	if rc.ev.RewardPaidAt != nil {
		proj, err := s.buildProjection(ctx, rc.ev, callerID)
		return "", proj, err
	}

	finder, err := s.users.GetByID(ctx, rc.ev.FinderID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get finder: %w", err)
	}
	if !finder.PaymentCapable {
		return "", nil, recovery.ErrInvalidTransition
	}

	// Nothing is written in this call; release the row before the provider
	// round trip so a slow checkout does not block the other actor.
	if err := tx.Rollback(ctx); err != nil {
		s.logger.Warn("rollback before checkout failed", zap.Error(err))
	}

	checkoutURL, err := s.provider.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		RecoveryEventID: eventID,
		AmountCents:     rc.disc.RewardAmount,
		PayeeID:         finder.ID,
	})
	if err != nil {
		metrics.TransitionErrorsTotal.WithLabelValues("payment_provider").Inc()
		return "", nil, fmt.Errorf("checkout session: %w", err)
	}

	s.logger.Info("checkout session created",
		zap.String("recovery_event_id", eventID.String()),
		zap.Int("amount", rc.disc.RewardAmount))

	proj, err := s.buildProjection(ctx, rc.ev, callerID)
	if err != nil {
		return "", nil, err
	}
	return checkoutURL, proj, nil
}

// ConfirmRewardPayment is invoked by the provider callback once the card
// payment went through. Idempotent: a duplicate confirmation is a no-op.
func (s *PostgresStorage) ConfirmRewardPayment(ctx context.Context, eventID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	ev, err := s.events.GetByIDForUpdate(ctx, tx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return err
		}
		return fmt.Errorf("failed to lock recovery event: %w", err)
	}
	if ev.RewardPaidAt != nil {
		return nil
	}
	disc, err := s.discs.GetByID(ctx, ev.DiscID)
	if err != nil {
		return fmt.Errorf("failed to get disc: %w", err)
	}
	// The webhook is authenticated but not tied to a checkout session, so
	// eligibility is re-checked before recording the payment.
	if ev.Status != recovery.StatusRecovered || disc.RewardAmount <= 0 {
		return recovery.ErrInvalidTransition
	}

	rc := &rewardContext{ev: ev, disc: disc, role: recovery.RoleOwner}
	if err := s.settleReward(ctx, tx, rc, repository.PaymentMethodCard); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ev)
	}
	metrics.RewardsSettledTotal.WithLabelValues(string(repository.PaymentMethodCard)).Inc()
	s.logger.Info("card payment confirmed", zap.String("recovery_event_id", eventID.String()))
	return nil
}
