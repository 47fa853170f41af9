package store

import (
	"context"
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
)

type CreateReservationInput struct {
	Patient           models.PatientSnapshot
	DoctorID          string
	Department        string
	VisitDate         time.Time
	Symptoms          string
	AIRecommendedPoli string
	AIConfidence      float64
	Payment           models.PaymentInfo
	CreatedAt         time.Time
}

type VerifyInput struct {
	ReservationID  string
	StaffID        string
	Classification string
	VerifiedAt     time.Time
}

// ReservationStore owns the reservation lifecycle. All status changes go
// through these methods; nothing mutates a reservation or a locked-number set
// directly.
type ReservationStore interface {
	CreateReservation(ctx context.Context, input CreateReservationInput) (models.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (models.Reservation, error)
	VerifyReservation(ctx context.Context, input VerifyInput) (models.Reservation, error)
	CompleteReservation(ctx context.Context, reservationID string, at time.Time) (models.Reservation, error)
	CancelReservation(ctx context.Context, reservationID string, at time.Time) (models.Reservation, error)
	FindByBookingCode(ctx context.Context, code string) (models.Reservation, bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.Reservation, error)
	ListByStatus(ctx context.Context, status string) ([]models.Reservation, error)
	ListQueue(ctx context.Context, doctorID string, date time.Time) ([]models.QueueEntry, error)
	NextInQueue(ctx context.Context, doctorID string, date time.Time) (models.QueueEntry, bool, error)
	EstimateWait(ctx context.Context, doctorID string, date time.Time, targetNumber int) (time.Duration, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// SessionStore resolves staff session tokens for the auth middleware.
// Identity management itself lives outside this service.
type SessionStore interface {
	GetSession(ctx context.Context, token string) (Session, error)
}

type Session struct {
	StaffID   string
	Role      string
	ExpiresAt time.Time
}

// ValidateCreate checks the fields the state machine cannot proceed without.
func ValidateCreate(input CreateReservationInput) error {
	if input.Patient.PatientID == "" || input.Patient.Name == "" {
		return ErrValidation
	}
	if input.DoctorID == "" || input.Department == "" || input.VisitDate.IsZero() {
		return ErrValidation
	}
	switch input.Payment.Method {
	case models.PaymentCash, models.PaymentPublicInsurance, models.PaymentPrivateInsurance:
	default:
		return ErrValidation
	}
	return nil
}
