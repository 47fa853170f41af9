// Package events carries queue lifecycle events out of the store: to NATS
// when a broker is configured, and to the in-process hub feeding waiting-room
// displays. Publishing is fire-and-forget; a lost event never affects a
// reservation transition.
package events

import (
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
)

const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationConfirmed = "reservation.confirmed"
	TypeReservationCompleted = "reservation.completed"
	TypeReservationCancelled = "reservation.cancelled"
	TypeReservationExpired   = "reservation.expired"
)

type QueueEvent struct {
	Type             string    `json:"type"`
	ReservationID    string    `json:"reservation_id"`
	DoctorID         string    `json:"doctor_id"`
	VisitDate        string    `json:"visit_date"`
	QueueNumber      int       `json:"queue_number"`
	Department       string    `json:"department"`
	DepartmentCode   string    `json:"department_code"`
	RegistrationCode string    `json:"registration_code,omitempty"`
	Status           string    `json:"status"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(event QueueEvent)
}

// FromReservation builds the event envelope for one transition.
func FromReservation(eventType string, r models.Reservation, at time.Time) QueueEvent {
	return QueueEvent{
		Type:           eventType,
		ReservationID:  r.ReservationID,
		DoctorID:       r.DoctorID,
		VisitDate:      models.DayKey(r.VisitDate),
		QueueNumber:    r.QueueNumber,
		Department:     r.Department,
		DepartmentCode: r.DepartmentCode,
		Status:         r.Status,
		OccurredAt:     at,
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(QueueEvent) {}

func Noop() Publisher {
	return noopPublisher{}
}

type multiPublisher []Publisher

func (m multiPublisher) Publish(event QueueEvent) {
	for _, p := range m {
		p.Publish(event)
	}
}

// Multi fans one event out to several publishers.
func Multi(publishers ...Publisher) Publisher {
	return multiPublisher(publishers)
}
