package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus tracks the lifecycle of a booked slot.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is one clinic slot occupied by one patient.
type Appointment struct {
	ID        uuid.UUID         `json:"id"`
	PatientID uuid.UUID         `json:"patient_id"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

var (
	// ErrSlotTaken is the expected contention outcome when two bookings race
	// for the same start time.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrClinicClosed is returned when the requested time falls inside a
	// blackout window.
	ErrClinicClosed = errors.New("clinic closed on requested date")

	// ErrOutsideBusinessHours is returned for start times off the slot grid.
	ErrOutsideBusinessHours = errors.New("start time outside business hours")
)
