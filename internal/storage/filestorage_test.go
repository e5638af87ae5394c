package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/payment"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
)

type fakeProvider struct {
	url string
	err error
}

func (p *fakeProvider) CreateCheckoutSession(context.Context, payment.CheckoutRequest) (string, error) {
	return p.url, p.err
}

func newTestFileStorage(t *testing.T) *FileStorage {
	t.Helper()

	fs, err := NewFileStorage(filepath.Join(t.TempDir(), "recovery.json"), &fakeProvider{url: "https://pay.example/s/1"}, zap.NewNop())
	require.NoError(t, err)

	handle := "@bob-pays"
	require.NoError(t, fs.SeedUser(repository.User{ID: "owner-1", Username: "alice", Token: "owner-token"}))
	require.NoError(t, fs.SeedUser(repository.User{
		ID: "finder-1", Username: "bob", Token: "finder-token",
		VenmoHandle: &handle, PaymentCapable: true,
	}))
	require.NoError(t, fs.SeedDisc(repository.Disc{
		ID: "disc-1", OwnerID: "owner-1", Name: "Night Hawk", Mold: "Destroyer", Color: "blue", RewardAmount: 10,
	}))
	require.NoError(t, fs.SeedDisc(repository.Disc{
		ID: "disc-2", OwnerID: "owner-1", Name: "Roadrunner", Mold: "Roadrunner", Color: "orange",
	}))
	return fs
}

func reportFound(t *testing.T, fs *FileStorage, discID string) uuid.UUID {
	t.Helper()
	proj, err := fs.ReportFound(context.Background(), "finder-1", discID, nil)
	require.NoError(t, err)
	require.Equal(t, recovery.StatusFound, proj.Status)
	return proj.ID
}

func propose(t *testing.T, fs *FileStorage, callerID string, eventID uuid.UUID) *Projection {
	t.Helper()
	proj, err := fs.ProposeMeetup(context.Background(), callerID, ProposeMeetupRequest{
		RecoveryEventID:  eventID,
		LocationName:     "Central Park",
		ProposedDatetime: time.Now().Add(24 * time.Hour).UTC(),
	})
	require.NoError(t, err)
	return proj
}

func TestReportFound_OwnDiscRejected(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)

	_, err := fs.ReportFound(context.Background(), "owner-1", "disc-1", nil)
	assert.ErrorIs(t, err, recovery.ErrForbidden)
}

func TestMeetupFlow(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")

	proj := propose(t, fs, "finder-1", eventID)
	require.Equal(t, recovery.StatusMeetupProposed, proj.Status)
	require.NotNil(t, proj.MeetupProposal)
	assert.Equal(t, recovery.RoleFinder, proj.MeetupProposal.ProposedByRole)
	assert.Equal(t, recovery.ProposalPending, proj.MeetupProposal.Status)

	t.Run("proposer cannot accept own offer", func(t *testing.T) {
		_, err := fs.AcceptMeetup(ctx, "finder-1", proj.MeetupProposal.ID)
		assert.ErrorIs(t, err, recovery.ErrInvalidRole)
	})

	accepted, err := fs.AcceptMeetup(ctx, "owner-1", proj.MeetupProposal.ID)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusMeetupConfirmed, accepted.Status)
	assert.Equal(t, recovery.ProposalAccepted, accepted.MeetupProposal.Status)

	t.Run("only owner completes", func(t *testing.T) {
		_, err := fs.CompleteRecovery(ctx, "finder-1", eventID)
		assert.ErrorIs(t, err, recovery.ErrInvalidRole)
	})

	done, err := fs.CompleteRecovery(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusRecovered, done.Status)
	require.NotNil(t, done.RecoveredAt)
	assert.WithinDuration(t, time.Now().UTC(), *done.RecoveredAt, 5*time.Second)

	history, err := fs.GetRecoveryHistory(ctx, "owner-1", eventID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, recovery.StatusFound, history[0].Status)
	assert.Equal(t, recovery.StatusRecovered, history[3].Status)
}

func TestCounterProposalReplacesPending(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")

	first := propose(t, fs, "finder-1", eventID)

	t.Run("proposer cannot counter own offer", func(t *testing.T) {
		_, err := fs.ProposeMeetup(ctx, "finder-1", ProposeMeetupRequest{
			RecoveryEventID:  eventID,
			LocationName:     "somewhere else",
			ProposedDatetime: time.Now().Add(48 * time.Hour).UTC(),
		})
		assert.ErrorIs(t, err, recovery.ErrInvalidRole)
	})

	counter, err := fs.ProposeMeetup(ctx, "owner-1", ProposeMeetupRequest{
		RecoveryEventID:  eventID,
		LocationName:     "Cedar Hills DGC lot",
		ProposedDatetime: time.Now().Add(48 * time.Hour).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusMeetupProposed, counter.Status)
	require.NotNil(t, counter.MeetupProposal)
	assert.NotEqual(t, first.MeetupProposal.ID, counter.MeetupProposal.ID)
	assert.Equal(t, recovery.RoleOwner, counter.MeetupProposal.ProposedByRole)

	// The superseded offer no longer stands.
	_, err = fs.AcceptMeetup(ctx, "finder-1", first.MeetupProposal.ID)
	assert.ErrorIs(t, err, recovery.ErrInvalidTransition)

	// One pending proposal at a time.
	fs.mu.Lock()
	pendingCount := 0
	for _, p := range fs.data.Proposals {
		if p.RecoveryEventID == eventID && p.Status == recovery.ProposalPending {
			pendingCount++
		}
	}
	fs.mu.Unlock()
	assert.Equal(t, 1, pendingCount)
}

func TestDropOffFlow(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")

	t.Run("owner cannot drop off", func(t *testing.T) {
		_, err := fs.DropOffDisc(ctx, "owner-1", DropOffRequest{
			RecoveryEventID: eventID, PhotoURL: "https://img.example/d.jpg", Latitude: 45.5, Longitude: -122.8,
		})
		assert.ErrorIs(t, err, recovery.ErrInvalidRole)
	})

	proj, err := fs.DropOffDisc(ctx, "finder-1", DropOffRequest{
		RecoveryEventID: eventID, PhotoURL: "https://img.example/d.jpg", Latitude: 45.5, Longitude: -122.8,
	})
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusDroppedOff, proj.Status)
	require.NotNil(t, proj.DropOff)
	assert.Equal(t, "https://img.example/d.jpg", proj.DropOff.PhotoURL)

	abandoned, err := fs.AbandonDisc(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusAbandoned, abandoned.Status)

	// Terminal: nothing moves it again.
	_, err = fs.MarkDiscRetrieved(ctx, "owner-1", eventID)
	assert.ErrorIs(t, err, recovery.ErrInvalidTransition)

	details, err := fs.GetRecoveryDetails(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusAbandoned, details.Status)
	assert.Empty(t, details.AllowedActions)
}

func TestSurrenderSetsTimestamp(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	eventID := reportFound(t, fs, "disc-1")

	proj, err := fs.SurrenderDisc(context.Background(), "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusSurrendered, proj.Status)
	require.NotNil(t, proj.SurrenderedAt)
}

func TestStrangerForbidden(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	require.NoError(t, fs.SeedUser(repository.User{ID: "stranger-1", Username: "mallory", Token: "stranger-token"}))
	eventID := reportFound(t, fs, "disc-1")

	_, err := fs.GetRecoveryDetails(context.Background(), "stranger-1", eventID)
	assert.ErrorIs(t, err, recovery.ErrForbidden)

	_, err = fs.CompleteRecovery(context.Background(), "stranger-1", eventID)
	assert.ErrorIs(t, err, recovery.ErrForbidden)
}

func recoverDisc(t *testing.T, fs *FileStorage, eventID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	proj := propose(t, fs, "finder-1", eventID)
	_, err := fs.AcceptMeetup(ctx, "owner-1", proj.MeetupProposal.ID)
	require.NoError(t, err)
	_, err = fs.CompleteRecovery(ctx, "owner-1", eventID)
	require.NoError(t, err)
}

func TestMarkRewardPaid(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")

	t.Run("not yet recovered", func(t *testing.T) {
		_, err := fs.MarkRewardPaid(ctx, "finder-1", eventID)
		assert.ErrorIs(t, err, recovery.ErrInvalidTransition)
	})

	recoverDisc(t, fs, eventID)

	t.Run("owner cannot self-attest", func(t *testing.T) {
		_, err := fs.MarkRewardPaid(ctx, "owner-1", eventID)
		assert.ErrorIs(t, err, recovery.ErrInvalidRole)
	})

	proj, err := fs.MarkRewardPaid(ctx, "finder-1", eventID)
	require.NoError(t, err)
	require.NotNil(t, proj.Reward)
	require.NotNil(t, proj.Reward.PaidAt)
	first := *proj.Reward.PaidAt

	// Second call keeps the first timestamp.
	again, err := fs.MarkRewardPaid(ctx, "finder-1", eventID)
	require.NoError(t, err)
	require.NotNil(t, again.Reward.PaidAt)
	assert.Equal(t, first, *again.Reward.PaidAt)
}

func TestNoRewardConfigured(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-2")
	recoverDisc(t, fs, eventID)

	_, err := fs.MarkRewardPaid(ctx, "finder-1", eventID)
	assert.ErrorIs(t, err, recovery.ErrInvalidTransition)

	proj, err := fs.GetRecoveryDetails(ctx, "finder-1", eventID)
	require.NoError(t, err)
	assert.Nil(t, proj.Reward)
}

func TestSendRewardPayment(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")
	recoverDisc(t, fs, eventID)

	t.Run("finder cannot start checkout", func(t *testing.T) {
		_, _, err := fs.SendRewardPayment(ctx, "finder-1", eventID)
		assert.ErrorIs(t, err, recovery.ErrInvalidRole)
	})

	url, proj, err := fs.SendRewardPayment(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/s/1", url)
	require.NotNil(t, proj.Reward)
	assert.Nil(t, proj.Reward.PaidAt, "checkout alone does not settle")

	require.NoError(t, fs.ConfirmRewardPayment(ctx, eventID))
	proj, err = fs.GetRecoveryDetails(ctx, "owner-1", eventID)
	require.NoError(t, err)
	require.NotNil(t, proj.Reward.PaidAt)
	first := *proj.Reward.PaidAt

	// Duplicate webhook deliveries are no-ops.
	require.NoError(t, fs.ConfirmRewardPayment(ctx, eventID))
	proj, err = fs.GetRecoveryDetails(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, first, *proj.Reward.PaidAt)

	// Settled: a new checkout is not started.
	url, _, err = fs.SendRewardPayment(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestConfirmRewardPaymentRequiresEligibility(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()

	t.Run("not yet recovered", func(t *testing.T) {
		eventID := reportFound(t, fs, "disc-1")
		err := fs.ConfirmRewardPayment(ctx, eventID)
		assert.ErrorIs(t, err, recovery.ErrInvalidTransition)

		proj, err := fs.GetRecoveryDetails(ctx, "owner-1", eventID)
		require.NoError(t, err)
		assert.Nil(t, proj.Reward.PaidAt)
	})

	t.Run("no reward configured", func(t *testing.T) {
		eventID := reportFound(t, fs, "disc-2")
		recoverDisc(t, fs, eventID)

		err := fs.ConfirmRewardPayment(ctx, eventID)
		assert.ErrorIs(t, err, recovery.ErrInvalidTransition)
	})
}

func TestChangeNotifier(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()

	var changed []uuid.UUID
	fs.SetNotifier(func(eventID uuid.UUID) {
		changed = append(changed, eventID)
	})

	eventID := reportFound(t, fs, "disc-1")
	recoverDisc(t, fs, eventID)
	_, err := fs.MarkRewardPaid(ctx, "finder-1", eventID)
	require.NoError(t, err)

	// report, propose, accept, complete, settle.
	require.Len(t, changed, 5)
	for _, id := range changed {
		assert.Equal(t, eventID, id)
	}

	// A rejected transition announces nothing.
	_, err = fs.CompleteRecovery(ctx, "owner-1", eventID)
	require.ErrorIs(t, err, recovery.ErrInvalidTransition)
	assert.Len(t, changed, 5)
}

func TestListRecoveries(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()

	first := reportFound(t, fs, "disc-1")
	second := reportFound(t, fs, "disc-2")
	_, err := fs.SurrenderDisc(ctx, "owner-1", first)
	require.NoError(t, err)

	owner, err := fs.ListRecoveries(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, owner, 2)
	assert.Equal(t, second, owner[0].ID)
	assert.Equal(t, first, owner[1].ID)
	assert.Equal(t, recovery.RoleOwner, owner[0].UserRole)
	assert.Equal(t, recovery.StatusSurrendered, owner[1].Status)
	assert.Equal(t, "Night Hawk", owner[1].Disc.Name)

	finder, err := fs.ListRecoveries(ctx, "finder-1")
	require.NoError(t, err)
	require.Len(t, finder, 2)
	assert.Equal(t, recovery.RoleFinder, finder[0].UserRole)

	require.NoError(t, fs.SeedUser(repository.User{ID: "stranger-1", Username: "mallory", Token: "stranger-token"}))
	none, err := fs.ListRecoveries(ctx, "stranger-1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConcurrentConflictingTransitions(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")

	proj := propose(t, fs, "finder-1", eventID)
	_, err := fs.AcceptMeetup(ctx, "owner-1", proj.MeetupProposal.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = fs.CompleteRecovery(ctx, "owner-1", eventID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = fs.SurrenderDisc(ctx, "owner-1", eventID)
	}()
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, recovery.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, winners, "exactly one of the racing transitions may win")
}

func TestAllowedActionsTrackRole(t *testing.T) {
	t.Parallel()
	fs := newTestFileStorage(t)
	ctx := context.Background()
	eventID := reportFound(t, fs, "disc-1")

	owner, err := fs.GetRecoveryDetails(ctx, "owner-1", eventID)
	require.NoError(t, err)
	assert.True(t, owner.Owner.IsYou)
	assert.ElementsMatch(t, []recovery.Action{recovery.ActionProposeMeetup, recovery.ActionSurrenderDisc}, owner.AllowedActions)

	finder, err := fs.GetRecoveryDetails(ctx, "finder-1", eventID)
	require.NoError(t, err)
	assert.True(t, finder.Finder.IsYou)
	assert.ElementsMatch(t, []recovery.Action{recovery.ActionProposeMeetup, recovery.ActionDropOffDisc}, finder.AllowedActions)
}

func TestStatePersistsAcrossReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "recovery.json")
	fs, err := NewFileStorage(path, &fakeProvider{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fs.SeedUser(repository.User{ID: "owner-1", Username: "alice", Token: "owner-token"}))
	require.NoError(t, fs.SeedUser(repository.User{ID: "finder-1", Username: "bob", Token: "finder-token"}))
	require.NoError(t, fs.SeedDisc(repository.Disc{ID: "disc-1", OwnerID: "owner-1", Name: "Night Hawk", Mold: "Destroyer", Color: "blue"}))

	eventID := reportFound(t, fs, "disc-1")
	_, err = fs.SurrenderDisc(context.Background(), "owner-1", eventID)
	require.NoError(t, err)

	reloaded, err := NewFileStorage(path, &fakeProvider{}, zap.NewNop())
	require.NoError(t, err)
	proj, err := reloaded.GetRecoveryDetails(context.Background(), "owner-1", eventID)
	require.NoError(t, err)
	assert.Equal(t, recovery.StatusSurrendered, proj.Status)

	user, err := reloaded.GetByToken(context.Background(), "finder-token")
	require.NoError(t, err)
	assert.Equal(t, "finder-1", user.ID)
}
