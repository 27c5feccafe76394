// Package profile implements the membership lifecycle core: the Profile
// entity, its append-only state transition log, the resolver that derives the
// current state from that log, and the recorder that appends transitions
// through the background dispatcher.
package profile

import "time"

// State is a profile lifecycle state.
type State string

const (
	// StateStranger is the implicit initial state. It has no transition row:
	// a profile with an empty log is a stranger.
	StateStranger   State = "stranger"
	StateSignedUp   State = "signed_up"
	StateSubscribed State = "subscribed"
	StateCancelled  State = "cancelled"
	StateChurned    State = "churned"
)

// Profile extends a user identity with billing links and lifecycle state.
type Profile struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Key    string `json:"key"`

	// State is a last-known-value cache refreshed by the transition job
	// handler. The transition log is authoritative; derive the truth with
	// Service.CurrentState.
	State State `json:"state"`

	ExperimentalFlag bool `json:"experimental_flag"`

	// Opaque Stripe object references, empty until billing is linked.
	SubscriptionID string `json:"subscription_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateTransition is one immutable row of the lifecycle log. Rows are never
// updated after insert. Deleting the owning profile nulls ProfileID but the
// row survives with BackupProfileID intact.
type StateTransition struct {
	Seq             int64          `json:"seq"`
	ProfileID       *int64         `json:"profile_id"`
	FromState       State          `json:"from_state"`
	ToState         State          `json:"to_state"`
	BackupProfileID int64          `json:"backup_profile_id"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
