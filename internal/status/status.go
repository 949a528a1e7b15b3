package status

import "errors"

var (
	ErrSlotUnavailable         = errors.New("slot: slot unavailable")
	ErrScheduleNotFound        = errors.New("schedule: schedule not found")
	ErrScheduleExists          = errors.New("schedule: schedule already published")
	ErrInvalidAmount           = errors.New("payment: invalid amount")
	ErrInvalidContact          = errors.New("payment: invalid contact")
	ErrServiceNotFound         = errors.New("booking: service not found")
	ErrServiceAlreadyFinalized = errors.New("booking: service already finalized")
	ErrDuplicateIntent         = errors.New("payment: duplicate intent")
	ErrGatewayUnverifiable     = errors.New("gateway: notification unverifiable")
	ErrGatewayUnreachable      = errors.New("gateway: gateway unreachable")

	ErrBookingNotFound = errors.New("booking: booking not found")
	ErrInvalidBooking  = errors.New("booking: invalid booking request")
	ErrPaymentNotFound = errors.New("payment: payment not found")
	ErrUnknownProvider = errors.New("gateway: unknown provider")
	ErrIgnoredEvent    = errors.New("gateway: event ignored")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrForbidden       = errors.New("auth: forbidden")
)
