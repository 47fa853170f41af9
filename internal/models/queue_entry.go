package models

import "time"

// QueueEntry is the operational record behind the department counter display.
// One entry is created per reservation, exactly once, when front-desk staff
// verify the patient. Visit progression (waiting, done) is read off the parent
// reservation's status; the entry itself is immutable.
type QueueEntry struct {
	EntryID       string    `json:"entry_id"`
	ReservationID string    `json:"reservation_id"`
	DoctorID      string    `json:"doctor_id"`
	VisitDate     time.Time `json:"visit_date"`
	QueueNumber   int       `json:"queue_number"`
	PatientName   string    `json:"patient_name"`
	Department    string    `json:"department"`
	CreatedAt     time.Time `json:"created_at"`
}
