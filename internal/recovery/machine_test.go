package recovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discbound/recovery/internal/recovery"
)

func TestEvaluate_LegalEdges(t *testing.T) {
	tests := []struct {
		name     string
		status   recovery.Status
		role     recovery.Role
		action   recovery.Action
		proposer recovery.Role
		next     recovery.Status
	}{
		{"owner proposes from found", recovery.StatusFound, recovery.RoleOwner, recovery.ActionProposeMeetup, recovery.RoleNone, recovery.StatusMeetupProposed},
		{"finder proposes from found", recovery.StatusFound, recovery.RoleFinder, recovery.ActionProposeMeetup, recovery.RoleNone, recovery.StatusMeetupProposed},
		{"finder drops off from found", recovery.StatusFound, recovery.RoleFinder, recovery.ActionDropOffDisc, recovery.RoleNone, recovery.StatusDroppedOff},
		{"owner surrenders from found", recovery.StatusFound, recovery.RoleOwner, recovery.ActionSurrenderDisc, recovery.RoleNone, recovery.StatusSurrendered},
		{"owner accepts finder proposal", recovery.StatusMeetupProposed, recovery.RoleOwner, recovery.ActionAcceptMeetup, recovery.RoleFinder, recovery.StatusMeetupConfirmed},
		{"finder accepts owner proposal", recovery.StatusMeetupProposed, recovery.RoleFinder, recovery.ActionAcceptMeetup, recovery.RoleOwner, recovery.StatusMeetupConfirmed},
		{"owner counters finder proposal", recovery.StatusMeetupProposed, recovery.RoleOwner, recovery.ActionProposeMeetup, recovery.RoleFinder, recovery.StatusMeetupProposed},
		{"finder counters owner proposal", recovery.StatusMeetupProposed, recovery.RoleFinder, recovery.ActionProposeMeetup, recovery.RoleOwner, recovery.StatusMeetupProposed},
		{"owner surrenders during negotiation", recovery.StatusMeetupProposed, recovery.RoleOwner, recovery.ActionSurrenderDisc, recovery.RoleFinder, recovery.StatusSurrendered},
		{"owner completes confirmed meetup", recovery.StatusMeetupConfirmed, recovery.RoleOwner, recovery.ActionCompleteRecovery, recovery.RoleNone, recovery.StatusRecovered},
		{"owner surrenders after confirmation", recovery.StatusMeetupConfirmed, recovery.RoleOwner, recovery.ActionSurrenderDisc, recovery.RoleNone, recovery.StatusSurrendered},
		{"owner retrieves drop-off", recovery.StatusDroppedOff, recovery.RoleOwner, recovery.ActionMarkRetrieved, recovery.RoleNone, recovery.StatusRecovered},
		{"owner relinquishes drop-off", recovery.StatusDroppedOff, recovery.RoleOwner, recovery.ActionRelinquishDisc, recovery.RoleNone, recovery.StatusSurrendered},
		{"owner abandons drop-off", recovery.StatusDroppedOff, recovery.RoleOwner, recovery.ActionAbandonDisc, recovery.RoleNone, recovery.StatusAbandoned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := recovery.Evaluate(tt.status, tt.role, tt.action, tt.proposer)
			require.NoError(t, err)
			assert.Equal(t, tt.next, next)
		})
	}
}

func TestEvaluate_InvalidRole(t *testing.T) {
	tests := []struct {
		name     string
		status   recovery.Status
		role     recovery.Role
		action   recovery.Action
		proposer recovery.Role
	}{
		{"finder surrenders", recovery.StatusFound, recovery.RoleFinder, recovery.ActionSurrenderDisc, recovery.RoleNone},
		{"owner drops off", recovery.StatusFound, recovery.RoleOwner, recovery.ActionDropOffDisc, recovery.RoleNone},
		{"finder completes recovery", recovery.StatusMeetupConfirmed, recovery.RoleFinder, recovery.ActionCompleteRecovery, recovery.RoleNone},
		{"finder marks retrieved", recovery.StatusDroppedOff, recovery.RoleFinder, recovery.ActionMarkRetrieved, recovery.RoleNone},
		{"finder relinquishes", recovery.StatusDroppedOff, recovery.RoleFinder, recovery.ActionRelinquishDisc, recovery.RoleNone},
		{"finder abandons", recovery.StatusDroppedOff, recovery.RoleFinder, recovery.ActionAbandonDisc, recovery.RoleNone},
		{"finder accepts own proposal", recovery.StatusMeetupProposed, recovery.RoleFinder, recovery.ActionAcceptMeetup, recovery.RoleFinder},
		{"owner accepts own proposal", recovery.StatusMeetupProposed, recovery.RoleOwner, recovery.ActionAcceptMeetup, recovery.RoleOwner},
		{"owner counters own proposal", recovery.StatusMeetupProposed, recovery.RoleOwner, recovery.ActionProposeMeetup, recovery.RoleOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := recovery.Evaluate(tt.status, tt.role, tt.action, tt.proposer)
			assert.ErrorIs(t, err, recovery.ErrInvalidRole)
			assert.Equal(t, tt.status, next, "status must be unchanged on rejection")
		})
	}
}

func TestEvaluate_InvalidTransition(t *testing.T) {
	tests := []struct {
		name   string
		status recovery.Status
		role   recovery.Role
		action recovery.Action
	}{
		{"abandon from found", recovery.StatusFound, recovery.RoleOwner, recovery.ActionAbandonDisc},
		{"abandon from meetup_proposed", recovery.StatusMeetupProposed, recovery.RoleOwner, recovery.ActionAbandonDisc},
		{"accept without proposal", recovery.StatusFound, recovery.RoleOwner, recovery.ActionAcceptMeetup},
		{"complete from found", recovery.StatusFound, recovery.RoleOwner, recovery.ActionCompleteRecovery},
		{"drop off after confirmation", recovery.StatusMeetupConfirmed, recovery.RoleFinder, recovery.ActionDropOffDisc},
		{"reopen confirmed meetup", recovery.StatusMeetupConfirmed, recovery.RoleFinder, recovery.ActionProposeMeetup},
		{"surrender after drop-off", recovery.StatusDroppedOff, recovery.RoleOwner, recovery.ActionSurrenderDisc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := recovery.Evaluate(tt.status, tt.role, tt.action, recovery.RoleNone)
			assert.ErrorIs(t, err, recovery.ErrInvalidTransition)
			assert.Equal(t, tt.status, next)
		})
	}
}

func TestEvaluate_TerminalStatusesAreFrozen(t *testing.T) {
	terminals := []recovery.Status{
		recovery.StatusRecovered,
		recovery.StatusSurrendered,
		recovery.StatusAbandoned,
		recovery.StatusCancelled,
	}
	actions := []recovery.Action{
		recovery.ActionProposeMeetup,
		recovery.ActionAcceptMeetup,
		recovery.ActionCompleteRecovery,
		recovery.ActionSurrenderDisc,
		recovery.ActionDropOffDisc,
		recovery.ActionMarkRetrieved,
		recovery.ActionRelinquishDisc,
		recovery.ActionAbandonDisc,
	}

	for _, status := range terminals {
		assert.True(t, status.Terminal())
		for _, action := range actions {
			for _, role := range []recovery.Role{recovery.RoleOwner, recovery.RoleFinder} {
				next, err := recovery.Evaluate(status, role, action, recovery.RoleNone)
				assert.ErrorIs(t, err, recovery.ErrInvalidTransition,
					"status=%s action=%s role=%s", status, action, role)
				assert.Equal(t, status, next)
			}
		}
	}
}

func TestPermittedActions(t *testing.T) {
	tests := []struct {
		name     string
		status   recovery.Status
		role     recovery.Role
		proposer recovery.Role
		want     []recovery.Action
	}{
		{
			name:   "owner at found",
			status: recovery.StatusFound, role: recovery.RoleOwner, proposer: recovery.RoleNone,
			want: []recovery.Action{recovery.ActionProposeMeetup, recovery.ActionSurrenderDisc},
		},
		{
			name:   "finder at found",
			status: recovery.StatusFound, role: recovery.RoleFinder, proposer: recovery.RoleNone,
			want: []recovery.Action{recovery.ActionProposeMeetup, recovery.ActionDropOffDisc},
		},
		{
			name:   "owner facing finder proposal",
			status: recovery.StatusMeetupProposed, role: recovery.RoleOwner, proposer: recovery.RoleFinder,
			want: []recovery.Action{recovery.ActionProposeMeetup, recovery.ActionAcceptMeetup, recovery.ActionSurrenderDisc},
		},
		{
			name:   "finder who proposed can only wait",
			status: recovery.StatusMeetupProposed, role: recovery.RoleFinder, proposer: recovery.RoleFinder,
			want: nil,
		},
		{
			name:   "owner at dropped_off",
			status: recovery.StatusDroppedOff, role: recovery.RoleOwner, proposer: recovery.RoleNone,
			want: []recovery.Action{recovery.ActionMarkRetrieved, recovery.ActionRelinquishDisc, recovery.ActionAbandonDisc},
		},
		{
			name:   "finder at dropped_off",
			status: recovery.StatusDroppedOff, role: recovery.RoleFinder, proposer: recovery.RoleNone,
			want: nil,
		},
		{
			name:   "owner at recovered",
			status: recovery.StatusRecovered, role: recovery.RoleOwner, proposer: recovery.RoleNone,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recovery.PermittedActions(tt.status, tt.role, tt.proposer)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRewardActions(t *testing.T) {
	eligible := recovery.RewardState{Amount: 1000, Paid: false, FinderPayable: true}

	t.Run("finder may self-attest", func(t *testing.T) {
		got := recovery.RewardActions(recovery.StatusRecovered, recovery.RoleFinder, eligible)
		assert.Equal(t, []recovery.Action{recovery.ActionMarkRewardPaid}, got)
	})

	t.Run("owner may send card payment", func(t *testing.T) {
		got := recovery.RewardActions(recovery.StatusRecovered, recovery.RoleOwner, eligible)
		assert.Equal(t, []recovery.Action{recovery.ActionSendRewardPayment}, got)
	})

	t.Run("owner without payable finder", func(t *testing.T) {
		rs := eligible
		rs.FinderPayable = false
		assert.Nil(t, recovery.RewardActions(recovery.StatusRecovered, recovery.RoleOwner, rs))
	})

	t.Run("no reward on the disc", func(t *testing.T) {
		rs := eligible
		rs.Amount = 0
		assert.Nil(t, recovery.RewardActions(recovery.StatusRecovered, recovery.RoleFinder, rs))
	})

	t.Run("already paid", func(t *testing.T) {
		rs := eligible
		rs.Paid = true
		assert.Nil(t, recovery.RewardActions(recovery.StatusRecovered, recovery.RoleFinder, rs))
	})

	t.Run("not recovered yet", func(t *testing.T) {
		assert.Nil(t, recovery.RewardActions(recovery.StatusMeetupConfirmed, recovery.RoleFinder, eligible))
	})
}

func TestOpposite(t *testing.T) {
	assert.Equal(t, recovery.RoleFinder, recovery.Opposite(recovery.RoleOwner))
	assert.Equal(t, recovery.RoleOwner, recovery.Opposite(recovery.RoleFinder))
	assert.Equal(t, recovery.RoleNone, recovery.Opposite(recovery.RoleNone))
}
