package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/metrics"
	"github.com/discbound/recovery/internal/payment"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

// FileStorage is the JSON-file backend used for local development and tests.
// It holds the whole dataset in memory behind one mutex and rewrites the file
// after every mutation, so a transition is atomic the same way the postgres
// backend's row lock makes it: concurrent requests serialize, and the loser
// re-evaluates its edge against the winner's status.
type FileStorage struct {
	filePath string
	provider payment.Provider
	logger   *zap.Logger
	notify   func(eventID uuid.UUID)

	mu   sync.Mutex
	data *fileData
}

type fileData struct {
	Events    []repository.RecoveryEvent  `json:"recovery_events"`
	Proposals []repository.MeetupProposal `json:"meetup_proposals"`
	DropOffs  []repository.DropOff        `json:"drop_offs"`
	Discs     []repository.Disc           `json:"discs"`
	Users     []repository.User           `json:"users"`
	History   []repository.HistoryEntry   `json:"history"`
	Payments  []repository.Payment        `json:"payments"`
}

func NewFileStorage(filePath string, provider payment.Provider, logger *zap.Logger) (*FileStorage, error) {
	fs := &FileStorage{
		filePath: filePath,
		provider: provider,
		logger:   logger,
		notify:   func(uuid.UUID) {},
		data:     &fileData{},
	}
	return fs, fs.load()
}

// SetNotifier installs the change-feed hook. The postgres backend announces
// every committed mutation through the outbox; this backend calls fn instead,
// once per persisted change. fn runs with the storage lock held and must not
// call back into the storage.
func (fs *FileStorage) SetNotifier(fn func(eventID uuid.UUID)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.notify = fn
}

func (fs *FileStorage) load() error {
	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(fs.data)
}

// save is called with fs.mu held.
func (fs *FileStorage) save() error {
	file, err := os.Create(fs.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(fs.data)
}

// SeedUser registers an account. Existing ids are overwritten.
func (fs *FileStorage) SeedUser(u repository.User) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Users {
		if fs.data.Users[i].ID == u.ID {
			fs.data.Users[i] = u
			return fs.save()
		}
	}
	fs.data.Users = append(fs.data.Users, u)
	return fs.save()
}

// SeedDisc registers a disc. Existing ids are overwritten.
func (fs *FileStorage) SeedDisc(d repository.Disc) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Discs {
		if fs.data.Discs[i].ID == d.ID {
			fs.data.Discs[i] = d
			return fs.save()
		}
	}
	fs.data.Discs = append(fs.data.Discs, d)
	return fs.save()
}

// GetByToken lets the file backend double as the auth lookup.
func (fs *FileStorage) GetByToken(_ context.Context, token string) (*repository.User, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Users {
		if fs.data.Users[i].Token == token {
			u := fs.data.Users[i]
			return &u, nil
		}
	}
	return nil, repository.ErrObjectNotFound
}

// Lookup helpers below are called with fs.mu held and return indexes, not
// pointers: appends may reallocate the backing arrays.

func (fs *FileStorage) eventIdx(id uuid.UUID) int {
	for i := range fs.data.Events {
		if fs.data.Events[i].ID == id {
			return i
		}
	}
	return -1
}

func (fs *FileStorage) discByID(id string) *repository.Disc {
	for i := range fs.data.Discs {
		if fs.data.Discs[i].ID == id {
			d := fs.data.Discs[i]
			return &d
		}
	}
	return nil
}

func (fs *FileStorage) userByID(id string) *repository.User {
	for i := range fs.data.Users {
		if fs.data.Users[i].ID == id {
			u := fs.data.Users[i]
			return &u
		}
	}
	return nil
}

func (fs *FileStorage) pendingIdx(eventID uuid.UUID) int {
	for i := range fs.data.Proposals {
		if fs.data.Proposals[i].RecoveryEventID == eventID && fs.data.Proposals[i].Status == recovery.ProposalPending {
			return i
		}
	}
	return -1
}

func (fs *FileStorage) acceptedProposal(eventID uuid.UUID) *repository.MeetupProposal {
	for i := range fs.data.Proposals {
		if fs.data.Proposals[i].RecoveryEventID == eventID && fs.data.Proposals[i].Status == recovery.ProposalAccepted {
			p := fs.data.Proposals[i]
			return &p
		}
	}
	return nil
}

func (fs *FileStorage) dropOff(eventID uuid.UUID) *repository.DropOff {
	for i := range fs.data.DropOffs {
		if fs.data.DropOffs[i].RecoveryEventID == eventID {
			d := fs.data.DropOffs[i]
			return &d
		}
	}
	return nil
}

func (fs *FileStorage) addHistory(eventID uuid.UUID, status recovery.Status, changedBy string, at time.Time) {
	fs.data.History = append(fs.data.History, repository.HistoryEntry{
		RecoveryEventID: eventID,
		Status:          status,
		ChangedBy:       changedBy,
		ChangedAt:       at,
	})
}

// projection is called with fs.mu held.
func (fs *FileStorage) projection(ev *repository.RecoveryEvent, callerID string) (*Projection, error) {
	role, err := roleOf(ev, callerID)
	if err != nil {
		return nil, err
	}
	disc := fs.discByID(ev.DiscID)
	owner := fs.userByID(ev.OwnerID)
	finder := fs.userByID(ev.FinderID)
	if disc == nil || owner == nil || finder == nil {
		return nil, repository.ErrObjectNotFound
	}

	var proposal *repository.MeetupProposal
	if i := fs.pendingIdx(ev.ID); i >= 0 {
		p := fs.data.Proposals[i]
		proposal = &p
	} else {
		proposal = fs.acceptedProposal(ev.ID)
	}

	return assembleProjection(ev, disc, owner, finder, proposal, fs.dropOff(ev.ID), role), nil
}

func (fs *FileStorage) GetRecoveryDetails(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.eventIdx(eventID)
	if i < 0 {
		return nil, repository.ErrObjectNotFound
	}
	ev := fs.data.Events[i]
	return fs.projection(&ev, callerID)
}

func (fs *FileStorage) GetRecoveryHistory(_ context.Context, callerID string, eventID uuid.UUID) ([]HistoryView, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.eventIdx(eventID)
	if i < 0 {
		return nil, repository.ErrObjectNotFound
	}
	ev := fs.data.Events[i]
	if _, err := roleOf(&ev, callerID); err != nil {
		return nil, err
	}

	var views []HistoryView
	for _, e := range fs.data.History {
		if e.RecoveryEventID != eventID {
			continue
		}
		role := recovery.RoleFinder
		if e.ChangedBy == ev.OwnerID {
			role = recovery.RoleOwner
		}
		views = append(views, HistoryView{Status: e.Status, ChangedBy: role, ChangedAt: e.ChangedAt})
	}
	return views, nil
}

func (fs *FileStorage) ListRecoveries(_ context.Context, callerID string) ([]RecoverySummary, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	summaries := make([]RecoverySummary, 0)
	// Newest first, matching the postgres ordering.
	for i := len(fs.data.Events) - 1; i >= 0; i-- {
		ev := fs.data.Events[i]
		role, err := roleOf(&ev, callerID)
		if err != nil {
			continue
		}
		disc := fs.discByID(ev.DiscID)
		if disc == nil {
			return nil, repository.ErrObjectNotFound
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

func (fs *FileStorage) ReportFound(_ context.Context, callerID, discID string, message *string) (*Projection, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	disc := fs.discByID(discID)
	if disc == nil {
		return nil, fmt.Errorf("disc %s: %w", discID, repository.ErrObjectNotFound)
	}
	if disc.OwnerID == callerID {
		return nil, fmt.Errorf("disc belongs to the reporter: %w", recovery.ErrForbidden)
	}

	now := time.Now().UTC()
	ev := repository.RecoveryEvent{
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
	fs.data.Events = append(fs.data.Events, ev)
	fs.addHistory(ev.ID, ev.Status, callerID, now)
	if err := fs.save(); err != nil {
		return nil, err
	}
	fs.notify(ev.ID)
	fs.logger.Info("recovery reported",
		zap.String("recovery_event_id", ev.ID.String()),
		zap.String("disc_id", disc.ID),
		zap.String("finder_id", callerID))
	return fs.projection(&ev, callerID)
}

// transition mirrors the postgres path: resolve role, re-evaluate the edge
// under the lock, apply side effects, advance the status and journal it.
func (fs *FileStorage) transition(callerID string, eventID uuid.UUID, action recovery.Action,
	apply func(ev *repository.RecoveryEvent, pendingIdx int) error) (*Projection, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.eventIdx(eventID)
	if i < 0 {
		return nil, repository.ErrObjectNotFound
	}
	ev := &fs.data.Events[i]

	role, err := roleOf(ev, callerID)
	if err != nil {
		metrics.TransitionErrorsTotal.WithLabelValues("forbidden").Inc()
		return nil, err
	}

	pendingIdx := -1
	var pending *repository.MeetupProposal
	if ev.Status == recovery.StatusMeetupProposed {
		if pendingIdx = fs.pendingIdx(ev.ID); pendingIdx >= 0 {
			pending = &fs.data.Proposals[pendingIdx]
		}
	}

	next, err := recovery.Evaluate(ev.Status, role, action, proposerRole(ev, pending))
	if err != nil {
		reason := "invalid_transition"
		if errors.Is(err, recovery.ErrInvalidRole) {
			reason = "invalid_role"
		}
		metrics.TransitionErrorsTotal.WithLabelValues(reason).Inc()
		return nil, err
	}

	if apply != nil {
		if err := apply(ev, pendingIdx); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	ev.Status = next
	ev.UpdatedAt = now
	switch next {
	case recovery.StatusRecovered:
		ev.RecoveredAt = &now
	case recovery.StatusSurrendered:
		ev.SurrenderedAt = &now
	}
	fs.addHistory(ev.ID, next, callerID, now)

	if err := fs.save(); err != nil {
		return nil, err
	}
	fs.notify(ev.ID)
	metrics.TransitionsTotal.WithLabelValues(string(action)).Inc()

	evCopy := *ev
	return fs.projection(&evCopy, callerID)
}

func (fs *FileStorage) ProposeMeetup(_ context.Context, callerID string, req ProposeMeetupRequest) (*Projection, error) {
	return fs.transition(callerID, req.RecoveryEventID, recovery.ActionProposeMeetup,
		func(ev *repository.RecoveryEvent, pendingIdx int) error {
			if pendingIdx >= 0 {
				fs.data.Proposals[pendingIdx].Status = recovery.ProposalDeclined
			}
			fs.data.Proposals = append(fs.data.Proposals, repository.MeetupProposal{
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
			})
			return nil
		})
}

func (fs *FileStorage) AcceptMeetup(_ context.Context, callerID string, proposalID uuid.UUID) (*Projection, error) {
	fs.mu.Lock()
	var eventID uuid.UUID
	found := false
	for i := range fs.data.Proposals {
		if fs.data.Proposals[i].ID == proposalID {
			eventID = fs.data.Proposals[i].RecoveryEventID
			found = true
			break
		}
	}
	fs.mu.Unlock()
	if !found {
		return nil, repository.ErrObjectNotFound
	}

	return fs.transition(callerID, eventID, recovery.ActionAcceptMeetup,
		func(ev *repository.RecoveryEvent, pendingIdx int) error {
			if pendingIdx < 0 || fs.data.Proposals[pendingIdx].ID != proposalID {
				return recovery.ErrInvalidTransition
			}
			fs.data.Proposals[pendingIdx].Status = recovery.ProposalAccepted
			return nil
		})
}

func (fs *FileStorage) CompleteRecovery(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	return fs.transition(callerID, eventID, recovery.ActionCompleteRecovery, nil)
}

func (fs *FileStorage) SurrenderDisc(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	return fs.transition(callerID, eventID, recovery.ActionSurrenderDisc, nil)
}

func (fs *FileStorage) DropOffDisc(_ context.Context, callerID string, req DropOffRequest) (*Projection, error) {
	return fs.transition(callerID, req.RecoveryEventID, recovery.ActionDropOffDisc,
		func(ev *repository.RecoveryEvent, _ int) error {
			fs.data.DropOffs = append(fs.data.DropOffs, repository.DropOff{
				ID:              uuid.New(),
				RecoveryEventID: ev.ID,
				PhotoURL:        req.PhotoURL,
				Latitude:        req.Latitude,
				Longitude:       req.Longitude,
				LocationNotes:   req.LocationNotes,
				DroppedOffAt:    time.Now().UTC(),
			})
			return nil
		})
}

func (fs *FileStorage) MarkDiscRetrieved(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	return fs.transition(callerID, eventID, recovery.ActionMarkRetrieved, nil)
}

func (fs *FileStorage) RelinquishDisc(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	return fs.transition(callerID, eventID, recovery.ActionRelinquishDisc, nil)
}

func (fs *FileStorage) AbandonDisc(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	return fs.transition(callerID, eventID, recovery.ActionAbandonDisc, nil)
}

// settleReward is called with fs.mu held.
func (fs *FileStorage) settleReward(ev *repository.RecoveryEvent, amount int, method repository.PaymentMethod) error {
	now := time.Now().UTC()
	ev.RewardPaidAt = &now
	ev.UpdatedAt = now
	fs.data.Payments = append(fs.data.Payments, repository.Payment{
		ID:              uuid.New(),
		RecoveryEventID: ev.ID,
		PayerID:         ev.OwnerID,
		Method:          method,
		Amount:          amount,
		RecordedAt:      now,
	})
	if err := fs.save(); err != nil {
		return err
	}
	fs.notify(ev.ID)
	metrics.RewardsSettledTotal.WithLabelValues(string(method)).Inc()
	return nil
}

func (fs *FileStorage) MarkRewardPaid(_ context.Context, callerID string, eventID uuid.UUID) (*Projection, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.eventIdx(eventID)
	if i < 0 {
		return nil, repository.ErrObjectNotFound
	}
	ev := &fs.data.Events[i]

	role, err := roleOf(ev, callerID)
	if err != nil {
		return nil, err
	}
	disc := fs.discByID(ev.DiscID)
	if disc == nil {
		return nil, repository.ErrObjectNotFound
	}
	if ev.Status != recovery.StatusRecovered || disc.RewardAmount <= 0 {
		return nil, recovery.ErrInvalidTransition
	}
	if role != recovery.RoleFinder {
		return nil, recovery.ErrInvalidRole
	}

	if ev.RewardPaidAt == nil {
		if err := fs.settleReward(ev, disc.RewardAmount, repository.PaymentMethodVenmo); err != nil {
			return nil, err
		}
	}

	evCopy := *ev
	return fs.projection(&evCopy, callerID)
}

func (fs *FileStorage) SendRewardPayment(ctx context.Context, callerID string, eventID uuid.UUID) (string, *Projection, error) {
	fs.mu.Lock()

	i := fs.eventIdx(eventID)
	if i < 0 {
		fs.mu.Unlock()
		return "", nil, repository.ErrObjectNotFound
	}
	ev := fs.data.Events[i]

	role, err := roleOf(&ev, callerID)
	if err != nil {
		fs.mu.Unlock()
		return "", nil, err
	}
	disc := fs.discByID(ev.DiscID)
	finder := fs.userByID(ev.FinderID)
	if disc == nil || finder == nil {
		fs.mu.Unlock()
		return "", nil, repository.ErrObjectNotFound
	}
	if ev.Status != recovery.StatusRecovered || disc.RewardAmount <= 0 {
		fs.mu.Unlock()
		return "", nil, recovery.ErrInvalidTransition
	}
	if role != recovery.RoleOwner {
		fs.mu.Unlock()
		return "", nil, recovery.ErrInvalidRole
	}
	if ev.RewardPaidAt != nil {
		proj, err := fs.projection(&ev, callerID)
		fs.mu.Unlock()
		return "", proj, err
	}
	if !finder.PaymentCapable {
		fs.mu.Unlock()
		return "", nil, recovery.ErrInvalidTransition
	}
	// Release before the provider round trip, same as the postgres backend.
	fs.mu.Unlock()

	checkoutURL, err := fs.provider.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		RecoveryEventID: eventID,
		AmountCents:     disc.RewardAmount,
		PayeeID:         finder.ID,
	})
	if err != nil {
		metrics.TransitionErrorsTotal.WithLabelValues("payment_provider").Inc()
		return "", nil, fmt.Errorf("checkout session: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	proj, err := fs.projection(&ev, callerID)
	if err != nil {
		return "", nil, err
	}
	return checkoutURL, proj, nil
}

func (fs *FileStorage) ConfirmRewardPayment(_ context.Context, eventID uuid.UUID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.eventIdx(eventID)
	if i < 0 {
		return repository.ErrObjectNotFound
	}
	ev := &fs.data.Events[i]
	if ev.RewardPaidAt != nil {
		return nil
	}
	disc := fs.discByID(ev.DiscID)
	if disc == nil {
		return repository.ErrObjectNotFound
	}
	// The webhook is authenticated but not tied to a checkout session, so
	// eligibility is re-checked before recording the payment.
	if ev.Status != recovery.StatusRecovered || disc.RewardAmount <= 0 {
		return recovery.ErrInvalidTransition
	}
	return fs.settleReward(ev, disc.RewardAmount, repository.PaymentMethodCard)
}
