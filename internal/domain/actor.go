package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the kind of principal making a request.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// Actor identifies who performed an action. It is recorded in audit rows.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// String renders the actor the way it is stored in the audit trail,
// e.g. "driver:6f1c...".
func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

// SystemOfferTimeout is the audit actor for offers reverted by the scheduler.
const SystemOfferTimeout = "system:offer-timeout"
