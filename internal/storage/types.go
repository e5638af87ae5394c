package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/discbound/recovery/internal/recovery"
)

// Projection is the role-specific read view of a recovery event. Both actors
// see the same data; only UserRole, the is_you markers and AllowedActions
// differ between them.
type Projection struct {
	ID             uuid.UUID         `json:"id"`
	Status         recovery.Status   `json:"status"`
	UserRole       recovery.Role     `json:"user_role"`
	Disc           DiscSummary       `json:"disc"`
	Owner          Participant       `json:"owner"`
	Finder         Participant       `json:"finder"`
	FinderMessage  *string           `json:"finder_message,omitempty"`
	FoundAt        time.Time         `json:"found_at"`
	RecoveredAt    *time.Time        `json:"recovered_at,omitempty"`
	SurrenderedAt  *time.Time        `json:"surrendered_at,omitempty"`
	MeetupProposal *ProposalView     `json:"meetup_proposal,omitempty"`
	DropOff        *DropOffView      `json:"drop_off,omitempty"`
	Reward         *RewardView       `json:"reward,omitempty"`
	AllowedActions []recovery.Action `json:"allowed_actions"`
}

type DiscSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Mold         string `json:"mold"`
	Color        string `json:"color"`
	RewardAmount int    `json:"reward_amount"`
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsYou    bool   `json:"is_you"`
}

type ProposalView struct {
	ID               uuid.UUID               `json:"id"`
	ProposedByRole   recovery.Role           `json:"proposed_by_role"`
	LocationName     string                  `json:"location_name"`
	Latitude         *float64                `json:"latitude,omitempty"`
	Longitude        *float64                `json:"longitude,omitempty"`
	ProposedDatetime time.Time               `json:"proposed_datetime"`
	Status           recovery.ProposalStatus `json:"status"`
	Message          *string                 `json:"message,omitempty"`
}

type DropOffView struct {
	PhotoURL      string    `json:"photo_url"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	LocationNotes *string   `json:"location_notes,omitempty"`
	DroppedOffAt  time.Time `json:"dropped_off_at"`
}

type RewardView struct {
	Amount        int        `json:"amount"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FinderPayable bool       `json:"finder_payable"`
	VenmoHandle   *string    `json:"venmo_handle,omitempty"`
}

// RecoverySummary is one row of a caller's recovery listing.
type RecoverySummary struct {
	ID        uuid.UUID       `json:"id"`
	Status    recovery.Status `json:"status"`
	UserRole  recovery.Role   `json:"user_role"`
	Disc      DiscSummary     `json:"disc"`
	FoundAt   time.Time       `json:"found_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryView is one entry of the status journal.
type HistoryView struct {
	Status    recovery.Status `json:"status"`
	ChangedBy recovery.Role   `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

// ProposeMeetupRequest carries a new or counter proposal.
type ProposeMeetupRequest struct {
	RecoveryEventID  uuid.UUID
	LocationName     string
	Latitude         *float64
	Longitude        *float64
	ProposedDatetime time.Time
	Message          *string
}

// DropOffRequest records where the finder left the disc.
type DropOffRequest struct {
	RecoveryEventID uuid.UUID
	PhotoURL        string
	Latitude        float64
	Longitude       float64
	LocationNotes   *string
}
