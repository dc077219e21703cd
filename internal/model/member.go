package model

import "time"

// Role is the derived family role of a member. It is computed from the role
// flags on every authorization decision, never cached across mutations.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleResponsible Role = "responsible"
	RoleOrdinary    Role = "ordinary"
)

type FamilyMember struct {
	ID            int64      `json:"id"`
	FamilyID      int64      `json:"family_id"`
	Name          string     `json:"name"`
	HasPIN        bool       `json:"has_pin"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	IsResponsible bool       `json:"is_responsible"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Role derives the member's role from its flags. Admin wins over responsible.
func (m *FamilyMember) Role() Role {
	switch {
	case m.IsAdmin:
		return RoleAdmin
	case m.IsResponsible:
		return RoleResponsible
	default:
		return RoleOrdinary
	}
}
