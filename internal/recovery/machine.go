// Package recovery holds the pure decision logic of the disc recovery
// lifecycle: which actions are legal from which status, and for which actor.
// Both the write path (transitions) and the read path (permitted actions in
// the client projection) share the same table, so authorization can never
// drift between the two.
package recovery

type edge struct {
	next   Status
	owner  bool
	finder bool
	// nonProposer restricts the edge to the actor opposite the author of the
	// pending meetup proposal. Countering your own offer makes no sense, and
	// accepting it even less.
	nonProposer bool
}

var transitions = map[Status]map[Action]edge{
	StatusFound: {
		ActionProposeMeetup: {next: StatusMeetupProposed, owner: true, finder: true},
		ActionDropOffDisc:   {next: StatusDroppedOff, finder: true},
		ActionSurrenderDisc: {next: StatusSurrendered, owner: true},
	},
	StatusMeetupProposed: {
		// Counter: decline the pending proposal and replace it with a new
		// one. The status does not move.
		ActionProposeMeetup: {next: StatusMeetupProposed, owner: true, finder: true, nonProposer: true},
		ActionAcceptMeetup:  {next: StatusMeetupConfirmed, owner: true, finder: true, nonProposer: true},
		ActionSurrenderDisc: {next: StatusSurrendered, owner: true},
	},
	StatusMeetupConfirmed: {
		ActionCompleteRecovery: {next: StatusRecovered, owner: true},
		ActionSurrenderDisc:    {next: StatusSurrendered, owner: true},
	},
	StatusDroppedOff: {
		ActionMarkRetrieved:  {next: StatusRecovered, owner: true},
		ActionRelinquishDisc: {next: StatusSurrendered, owner: true},
		ActionAbandonDisc:    {next: StatusAbandoned, owner: true},
	},
}

// actionOrder fixes the iteration order for PermittedActions so projections
// are stable across calls.
var actionOrder = []Action{
	ActionProposeMeetup,
	ActionAcceptMeetup,
	ActionCompleteRecovery,
	ActionMarkRetrieved,
	ActionDropOffDisc,
	ActionRelinquishDisc,
	ActionAbandonDisc,
	ActionSurrenderDisc,
}

func (e edge) allows(role Role, pendingProposer Role) error {
	allowed := (role == RoleOwner && e.owner) || (role == RoleFinder && e.finder)
	if !allowed {
		return ErrInvalidRole
	}
	if e.nonProposer && pendingProposer != RoleNone && role == pendingProposer {
		return ErrInvalidRole
	}
	return nil
}

// Evaluate decides a transition request. pendingProposer is the role that
// authored the currently pending meetup proposal, or RoleNone when there is
// none. It returns the next status, ErrInvalidTransition when the current
// status has no edge for the action, or ErrInvalidRole when the edge exists
// but the caller may not trigger it.
func Evaluate(status Status, role Role, action Action, pendingProposer Role) (Status, error) {
	e, ok := transitions[status][action]
	if !ok {
		return status, ErrInvalidTransition
	}
	if err := e.allows(role, pendingProposer); err != nil {
		return status, err
	}
	return e.next, nil
}

// PermittedActions lists the status transitions the given role could trigger
// right now. Reward actions are appended separately via RewardActions since
// they depend on settlement state, not on the status edge table.
func PermittedActions(status Status, role Role, pendingProposer Role) []Action {
	edges, ok := transitions[status]
	if !ok {
		return nil
	}
	var actions []Action
	for _, a := range actionOrder {
		e, ok := edges[a]
		if !ok {
			continue
		}
		if e.allows(role, pendingProposer) == nil {
			actions = append(actions, a)
		}
	}
	return actions
}

// RewardState is the settlement view the reward gating needs.
type RewardState struct {
	Amount        int  // reward in cents, from the disc
	Paid          bool // reward_paid_at already set
	FinderPayable bool // finder can receive card payments
}

// RewardActions lists the settlement actions available to the role. Only
// meaningful once the recovery is in StatusRecovered: the finder may
// self-attest an out-of-band (Venmo) payment, the owner may start a card
// checkout when the finder can receive one.
func RewardActions(status Status, role Role, rs RewardState) []Action {
	if status != StatusRecovered || rs.Amount <= 0 || rs.Paid {
		return nil
	}
	switch role {
	case RoleFinder:
		return []Action{ActionMarkRewardPaid}
	case RoleOwner:
		if rs.FinderPayable {
			return []Action{ActionSendRewardPayment}
		}
	}
	return nil
}

// Opposite returns the other participant's role.
func Opposite(role Role) Role {
	switch role {
	case RoleOwner:
		return RoleFinder
	case RoleFinder:
		return RoleOwner
	}
	return RoleNone
}
