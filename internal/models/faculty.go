package models

import "time"

// Faculty represents a faculty member with a desk unit and wireless beacon.
// Available is derived state: AlwaysAvailable forces it true, otherwise it
// follows the latest presence signal, held through a grace window.
type Faculty struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Department      string     `db:"department" json:"department"`
	Email           string     `db:"email" json:"email"`
	BeaconID        string     `db:"beacon_id" json:"beacon_id"`
	Available       bool       `db:"available" json:"available"`
	AlwaysAvailable bool       `db:"always_available" json:"always_available"`
	InGracePeriod   bool       `db:"in_grace_period" json:"in_grace_period"`
	GraceUntil      *time.Time `db:"grace_until" json:"grace_until,omitempty"`
	LastSeen        *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// EffectiveAvailability resolves the availability shown to students.
// AlwaysAvailable strictly overrides; an unexpired grace window holds the
// last-known-present state.
func (f Faculty) EffectiveAvailability(now time.Time) bool {
	if f.AlwaysAvailable {
		return true
	}
	if f.Available {
		return true
	}
	if f.InGracePeriod && f.GraceUntil != nil && now.Before(*f.GraceUntil) {
		return true
	}
	return false
}

// FacultyFilter encapsulates allowed search parameters for listing faculty.
type FacultyFilter struct {
	Available *bool
	Search    string
	Page      int
	PageSize  int
}
