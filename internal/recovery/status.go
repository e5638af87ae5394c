package recovery

// Status is the lifecycle state of a recovery event. It only moves forward
// along the edges in the transition table; terminal statuses never change.
type Status string

const (
	StatusFound           Status = "found"
	StatusMeetupProposed  Status = "meetup_proposed"
	StatusMeetupConfirmed Status = "meetup_confirmed"
	StatusDroppedOff      Status = "dropped_off"
	StatusRecovered       Status = "recovered"
	StatusSurrendered     Status = "surrendered"
	StatusAbandoned       Status = "abandoned"
	// StatusCancelled is reserved for administrative closure. No actor-driven
	// action transitions into it.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusRecovered, StatusSurrendered, StatusAbandoned, StatusCancelled:
		return true
	case StatusFound, StatusMeetupProposed, StatusMeetupConfirmed, StatusDroppedOff:
		return false
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusFound, StatusMeetupProposed, StatusMeetupConfirmed, StatusDroppedOff,
		StatusRecovered, StatusSurrendered, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// Action is a named transition request against a recovery event.
type Action string

const (
	ActionProposeMeetup    Action = "propose_meetup"
	ActionAcceptMeetup     Action = "accept_meetup"
	ActionCompleteRecovery Action = "complete_recovery"
	ActionSurrenderDisc    Action = "surrender_disc"
	ActionDropOffDisc      Action = "drop_off_disc"
	ActionMarkRetrieved    Action = "mark_disc_retrieved"
	ActionRelinquishDisc   Action = "relinquish_disc"
	ActionAbandonDisc      Action = "abandon_disc"

	// Reward actions never change the status; they are gated separately by
	// the settlement rules in RewardActions.
	ActionMarkRewardPaid    Action = "mark_reward_paid"
	ActionSendRewardPayment Action = "send_reward_payment"
)

// Role is the caller's relationship to a recovery event.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleFinder Role = "finder"
	// RoleNone marks "no pending proposal" when passed as the proposer role.
	RoleNone Role = ""
)

// ProposalStatus is the resolution state of a meetup proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalDeclined ProposalStatus = "declined"
)
