package domain

import "time"

// RestrictedInstrument is one symbol currently forbidden from unsupervised
// trading. Presence in the registry is the sole input to the restriction
// verdict.
type RestrictedInstrument struct {
	Symbol    string         `db:"symbol" json:"symbol"`
	Name      string         `db:"name" json:"name"`
	Kind      InstrumentKind `db:"kind" json:"kind"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// RegistryChange is one row of the regulator-facing changelog: who changed the
// restricted list, when, and why. Distinct from the general audit trail.
type RegistryChange struct {
	ID        string    `db:"id" json:"id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Action    string    `db:"action" json:"action"` // restrict | unrestrict
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	RegistryActionRestrict   = "restrict"
	RegistryActionUnrestrict = "unrestrict"
)
