package models

import (
	"time"
)

type ServiceType string

const (
	ServiceMass        ServiceType = "mass"
	ServiceCertificate ServiceType = "certificate"
)

func (t ServiceType) Valid() bool {
	return t == ServiceMass || t == ServiceCertificate
}

type CertificateType string

const (
	CertificateBaptism      CertificateType = "baptism"
	CertificateConfirmation CertificateType = "confirmation"
	CertificateMarriage     CertificateType = "marriage"
	CertificateDeath        CertificateType = "death"
)

func (t CertificateType) Valid() bool {
	switch t {
	case CertificateBaptism, CertificateConfirmation, CertificateMarriage, CertificateDeath:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingPending             BookingStatus = "pending"
	BookingConfirmed           BookingStatus = "confirmed"            // mass, paid
	BookingAwaitingFulfillment BookingStatus = "awaiting_fulfillment" // certificate, paid
	BookingSent                BookingStatus = "sent"                 // certificate, delivered
	BookingExpired             BookingStatus = "expired"
)

type BookingRequest struct {
	ID              string          `json:"id"`
	Kind            ServiceType     `json:"kind"`
	RequesterID     string          `json:"requester_id"`
	SlotID          string          `json:"slot_id,omitempty"`
	MassDate        string          `json:"mass_date,omitempty"`
	MassTime        string          `json:"mass_time,omitempty"`
	Intention       string          `json:"intention,omitempty"`
	CertificateType CertificateType `json:"certificate_type,omitempty"`
	Status          BookingStatus   `json:"status"`
	Cycle           int             `json:"cycle"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Finalized reports whether the request reached its terminal confirmed state
// and can no longer be paid for.
func (b *BookingRequest) Finalized() bool {
	switch b.Kind {
	case ServiceMass:
		return b.Status == BookingConfirmed
	case ServiceCertificate:
		return b.Status == BookingSent
	}
	return false
}
