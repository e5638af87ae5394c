package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/discbound/recovery/internal/recovery"
)

var ErrObjectNotFound = errors.New("not found")

// RecoveryEvent is one lost-disc recovery case. Rows are never deleted, only
// moved into a terminal status.
type RecoveryEvent struct {
	ID            uuid.UUID       `db:"id"`
	DiscID        string          `db:"disc_id"`
	OwnerID       string          `db:"owner_id"`
	FinderID      string          `db:"finder_id"`
	Status        recovery.Status `db:"status"`
	FinderMessage *string         `db:"finder_message"`
	FoundAt       time.Time       `db:"found_at"`
	RecoveredAt   *time.Time      `db:"recovered_at"`
	SurrenderedAt *time.Time      `db:"surrendered_at"`
	RewardPaidAt  *time.Time      `db:"reward_paid_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// MeetupProposal is a single candidate meeting offer. At most one pending
// proposal exists per recovery event; accepting one declines the rest.
type MeetupProposal struct {
	ID               uuid.UUID               `db:"id"`
	RecoveryEventID  uuid.UUID               `db:"recovery_event_id"`
	ProposedBy       string                  `db:"proposed_by"`
	LocationName     string                  `db:"location_name"`
	Latitude         *float64                `db:"latitude"`
	Longitude        *float64                `db:"longitude"`
	ProposedDatetime time.Time               `db:"proposed_datetime"`
	Status           recovery.ProposalStatus `db:"status"`
	Message          *string                 `db:"message"`
	CreatedAt        time.Time               `db:"created_at"`
}

// DropOff is the physical location where the finder left the disc. One per
// recovery event.
type DropOff struct {
	ID              uuid.UUID `db:"id"`
	RecoveryEventID uuid.UUID `db:"recovery_event_id"`
	PhotoURL        string    `db:"photo_url"`
	Latitude        float64   `db:"latitude"`
	Longitude       float64   `db:"longitude"`
	LocationNotes   *string   `db:"location_notes"`
	DroppedOffAt    time.Time `db:"dropped_off_at"`
}

// Disc is the physical item a recovery is about. RewardAmount is in cents.
type Disc struct {
	ID           string `db:"id"`
	OwnerID      string `db:"owner_id"`
	Name         string `db:"name"`
	Mold         string `db:"mold"`
	Color        string `db:"color"`
	RewardAmount int    `db:"reward_amount"`
}

// PaymentMethod distinguishes the two reward payout paths.
type PaymentMethod string

const (
	PaymentMethodVenmo PaymentMethod = "venmo"
	PaymentMethodCard  PaymentMethod = "card"
)

// Payment records a reward settlement. Used only for idempotent
// "already paid" checks, nothing in the core flow depends on it.
type Payment struct {
	ID              uuid.UUID     `db:"id"`
	RecoveryEventID uuid.UUID     `db:"recovery_event_id"`
	PayerID         string        `db:"payer_id"`
	Method          PaymentMethod `db:"method"`
	Amount          int           `db:"amount"`
	RecordedAt      time.Time     `db:"recorded_at"`
}

// HistoryEntry journals one status change of a recovery event.
type HistoryEntry struct {
	ID              int64           `db:"id"`
	RecoveryEventID uuid.UUID       `db:"recovery_event_id"`
	Status          recovery.Status `db:"status"`
	ChangedBy       string          `db:"changed_by"`
	ChangedAt       time.Time       `db:"changed_at"`
}

// User is a participant account. Token is the bearer credential presented by
// the mobile clients; VenmoHandle and PaymentCapable feed the reward
// settlement gating.
type User struct {
	ID             string  `db:"id"`
	Username       string  `db:"username"`
	Password       string  `db:"password"`
	Token          string  `db:"token"`
	VenmoHandle    *string `db:"venmo_handle"`
	PaymentCapable bool    `db:"payment_capable"`
}
