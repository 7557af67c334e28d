package responder

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carealert/carealert/internal/domain/event"
)

var ErrNotFound = errors.New("responder not found")

// Role orders responders within a tier: PRIMARY is paged before SECONDARY,
// SECONDARY before MANAGER.
type Role string

const (
	RolePrimary   Role = "PRIMARY"
	RoleSecondary Role = "SECONDARY"
	RoleManager   Role = "MANAGER"
)

// priority returns the paging order of the role, lower first.
func (r Role) priority() int {
	switch r {
	case RolePrimary:
		return 0
	case RoleSecondary:
		return 1
	case RoleManager:
		return 2
	}
	return 3
}

type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusResponding Status = "RESPONDING"
	StatusOnBreak    Status = "ON_BREAK"
	StatusOffShift   Status = "OFF_SHIFT"
)

// GeneralCare is the fallback capability: a responder carrying it is
// eligible for any kind that has no exact capability match on shift.
const GeneralCare = "general_care"

// CapabilityFor maps an event kind to the capability tag it requires.
// The switch is exhaustive over event.Kinds; adding a kind without
// extending it fails the directory tests.
func CapabilityFor(kind event.Kind) string {
	switch kind {
	case event.KindMedicalEmergency:
		return "emergency_medicine"
	case event.KindFire:
		return "fire_safety"
	case event.KindSecurity:
		return "security_response"
	case event.KindBehavioral:
		return "behavioral_support"
	case event.KindFall:
		return "falls_response"
	case event.KindMissedDose:
		return "medication_management"
	case event.KindDrugInteraction:
		return "clinical_pharmacology"
	case event.KindConsentExpiring:
		return "records_administration"
	}
	return GeneralCare
}

// ContactMethod is one way to reach a responder. Methods are ranked: the
// dispatcher prefers earlier entries when a policy channel has several.
type ContactMethod struct {
	Channel string `db:"channel" json:"channel"` // push, sms, voice, email
	Address string `db:"address" json:"address"`
}

// Responder is an on-call staff member.
type Responder struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	Name                string          `db:"name" json:"name"`
	Role                Role            `db:"role" json:"role"`
	Capabilities        []string        `db:"capabilities" json:"capabilities"`
	Unit                string          `db:"unit" json:"unit"` // home location, used as a routing tie-break
	ShiftStart          time.Time       `db:"shift_start" json:"shift_start"`
	ShiftEnd            time.Time       `db:"shift_end" json:"shift_end"`
	ContactMethods      []ContactMethod `db:"contact_methods" json:"contact_methods"`
	MaxConcurrentEvents int             `db:"max_concurrent_events" json:"max_concurrent_events"`
	Status              Status          `db:"status" json:"status"`
}

// OnShift reports whether now falls inside the responder's shift window.
func (r *Responder) OnShift(now time.Time) bool {
	return !now.Before(r.ShiftStart) && now.Before(r.ShiftEnd)
}

// HasCapability reports whether the responder carries the given tag.
func (r *Responder) HasCapability(tag string) bool {
	for _, c := range r.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Contact returns the address for a channel, preferring higher-ranked
// methods. ok is false when the responder has no method for the channel.
func (r *Responder) Contact(channel string) (string, bool) {
	for _, m := range r.ContactMethods {
		if m.Channel == channel {
			return m.Address, true
		}
	}
	return "", false
}

func (r *Responder) clone() Responder {
	cp := *r
	cp.Capabilities = append([]string(nil), r.Capabilities...)
	cp.ContactMethods = append([]ContactMethod(nil), r.ContactMethods...)
	return cp
}
