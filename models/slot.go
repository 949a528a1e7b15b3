package models

import (
	"time"
)

type SlotStatus string

const (
	SlotFree     SlotStatus = "free"
	SlotReserved SlotStatus = "reserved"
	SlotOccupied SlotStatus = "occupied"
)

type Schedule struct {
	Date      string    `json:"date"` // YYYY-MM-DD
	Slots     []Slot    `json:"slots"`
	CreatedAt time.Time `json:"created_at"`
}

type Slot struct {
	ID            string     `json:"id"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	Status        SlotStatus `json:"status"`
	Holder        *string    `json:"holder,omitempty"` // booking request id
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	OccupiedBy    *string    `json:"occupied_by,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Available reports whether the slot can be claimed at now.
func (s *Slot) Available(now time.Time) bool {
	switch s.Status {
	case SlotFree:
		return true
	case SlotReserved:
		return s.HoldExpiresAt != nil && s.HoldExpiresAt.Before(now)
	}
	return false
}
