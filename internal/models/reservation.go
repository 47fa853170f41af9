package models

import "time"

// Reservation is one patient's booking attempt for one doctor, department,
// and visit date. It is never deleted; cancellation and expiry are terminal
// statuses, not removal.
type Reservation struct {
	ReservationID     string          `json:"reservation_id"`
	RegistrationCode  string          `json:"registration_code"`
	DepartmentCode    string          `json:"department_code"`
	DoctorID          string          `json:"doctor_id"`
	Department        string          `json:"department"`
	VisitDate         time.Time       `json:"visit_date"`
	QueueNumber       int             `json:"queue_number"`
	Patient           PatientSnapshot `json:"patient"`
	Symptoms          string          `json:"symptoms,omitempty"`
	AIRecommendedPoli string          `json:"ai_recommended_poli,omitempty"`
	AIConfidence      float64         `json:"ai_confidence,omitempty"`
	Payment           PaymentInfo     `json:"payment"`
	Status            string          `json:"status"`
	Classification    string          `json:"classification,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	VerifiedAt        *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy        *string         `json:"verified_by,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
}

// PatientSnapshot is copied from the patient profile at submission time, not
// a live reference.
type PatientSnapshot struct {
	PatientID  string    `json:"patient_id"`
	Name       string    `json:"name"`
	Contact    string    `json:"contact,omitempty"`
	NationalID string    `json:"national_id,omitempty"`
	Gender     string    `json:"gender,omitempty"`
	BirthPlace string    `json:"birth_place,omitempty"`
	BirthDate  time.Time `json:"birth_date,omitempty"`
}

type PaymentInfo struct {
	Method        string `json:"method"`
	InsurerName   string `json:"insurer_name,omitempty"`
	InsurerNumber string `json:"insurer_number,omitempty"`
}

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	PaymentCash             = "cash"
	PaymentPublicInsurance  = "public_insurance"
	PaymentPrivateInsurance = "private_insurance"
)

// Terminal reports whether no further transition may leave the status.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// DayOf truncates a timestamp to its UTC calendar day. Queue numbers, locked
// sets, and expiry all scope to this day value.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats the UTC calendar day the way allocator and tracker key it.
func DayKey(t time.Time) string {
	return DayOf(t).Format("2006-01-02")
}
