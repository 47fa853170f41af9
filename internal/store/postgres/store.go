// Package postgres is the durable reservation store. The locked_queue_numbers
// table mirrors the in-memory allocator: lock is an INSERT ... ON CONFLICT DO
// NOTHING on the (doctor, date, number) primary key, unlock is a DELETE, and
// both always commit in the same transaction as the reservation row so the
// two structures cannot drift.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/NikWasHere/magang-rspb-sub000/internal/bookingcode"
	"github.com/NikWasHere/magang-rspb-sub000/internal/events"
	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
)

const (
	maxLockAttempts = 32
	maxCodeDraws    = 100

	defaultMinutesPerPatient = 15
)

const uniqueViolation = "23505"

// Notifier receives fire-and-forget transition notifications.
type Notifier interface {
	ReservationCreated(models.Reservation)
	ReservationVerified(models.Reservation)
}

type Store struct {
	pool              *pgxpool.Pool
	codes             *bookingcode.Generator
	notifier          Notifier
	publisher         events.Publisher
	logger            *zap.Logger
	minutesPerPatient int
}

type Options struct {
	Codes             *bookingcode.Generator
	Notifier          Notifier
	Publisher         events.Publisher
	Logger            *zap.Logger
	MinutesPerPatient int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	codes := options.Codes
	if codes == nil {
		codes = bookingcode.New(bookingcode.Options{})
	}
	publisher := options.Publisher
	if publisher == nil {
		publisher = events.Noop()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	minutes := options.MinutesPerPatient
	if minutes <= 0 {
		minutes = defaultMinutesPerPatient
	}
	return &Store{
		pool:              pool,
		codes:             codes,
		notifier:          options.Notifier,
		publisher:         publisher,
		logger:            logger,
		minutesPerPatient: minutes,
	}
}

func (s *Store) CreateReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error) {
	if err := store.ValidateCreate(input); err != nil {
		return models.Reservation{}, err
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	visitDate := models.DayOf(input.VisitDate)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	number, err := lockLowestFree(ctx, tx, input.DoctorID, visitDate)
	if err != nil {
		return models.Reservation{}, err
	}

	regCode, err := drawRegistrationCode(ctx, tx, s.codes)
	if err != nil {
		return models.Reservation{}, err
	}

	reservation := models.Reservation{
		ReservationID:     uuid.NewString(),
		RegistrationCode:  regCode,
		DepartmentCode:    s.codes.DepartmentCode(input.Department, number),
		DoctorID:          input.DoctorID,
		Department:        input.Department,
		VisitDate:         visitDate,
		QueueNumber:       number,
		Patient:           input.Patient,
		Symptoms:          input.Symptoms,
		AIRecommendedPoli: input.AIRecommendedPoli,
		AIConfidence:      input.AIConfidence,
		Payment:           input.Payment,
		Status:            models.StatusPending,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (
			reservation_id, registration_code, department_code, doctor_id, department,
			visit_date, queue_number, patient_id, patient_name, patient_contact,
			patient_national_id, patient_gender, patient_birth_place, patient_birth_date,
			symptoms, ai_recommended_poli, ai_confidence, payment_method, insurer_name,
			insurer_number, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		reservation.ReservationID, reservation.RegistrationCode, reservation.DepartmentCode,
		reservation.DoctorID, reservation.Department, reservation.VisitDate, reservation.QueueNumber,
		input.Patient.PatientID, input.Patient.Name, nullIfEmpty(input.Patient.Contact),
		nullIfEmpty(input.Patient.NationalID), nullIfEmpty(input.Patient.Gender),
		nullIfEmpty(input.Patient.BirthPlace), nullTime(input.Patient.BirthDate),
		nullIfEmpty(input.Symptoms), nullIfEmpty(input.AIRecommendedPoli), reservation.AIConfidence,
		input.Payment.Method, nullIfEmpty(input.Payment.InsurerName), nullIfEmpty(input.Payment.InsurerNumber),
		reservation.Status, createdAt, createdAt,
	)
	if err != nil {
		// A rollback also releases the locked number; lock and persistence
		// succeed or fail as one unit.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Reservation{}, store.ErrConflict
		}
		return models.Reservation{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, err
	}

	s.logger.Info("reservation created",
		zap.String("reservation_id", reservation.ReservationID),
		zap.String("doctor_id", reservation.DoctorID),
		zap.Int("queue_number", reservation.QueueNumber),
	)
	if s.notifier != nil {
		s.notifier.ReservationCreated(reservation)
	}
	s.publisher.Publish(events.FromReservation(events.TypeReservationCreated, reservation, createdAt))
	return reservation, nil
}

// lockLowestFree runs the nextNumber/lock pair against the locked-number
// table until an insert wins. A lost round means a concurrent transaction
// holds the number; the next round sees it and moves past.
func lockLowestFree(ctx context.Context, tx pgx.Tx, doctorID string, visitDate time.Time) (int, error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		var number int
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(MIN(candidate), 1)
			FROM generate_series(1, (
				SELECT COALESCE(MAX(queue_number), 0) + 1
				FROM locked_queue_numbers
				WHERE doctor_id = $1 AND visit_date = $2
			)) AS candidate
			WHERE candidate NOT IN (
				SELECT queue_number FROM locked_queue_numbers
				WHERE doctor_id = $1 AND visit_date = $2
			)
		`, doctorID, visitDate).Scan(&number)
		if err != nil {
			return 0, err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO locked_queue_numbers (doctor_id, visit_date, queue_number)
			VALUES ($1, $2, $3)
			ON CONFLICT (doctor_id, visit_date, queue_number) DO NOTHING
		`, doctorID, visitDate, number)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 1 {
			return number, nil
		}
	}
	return 0, store.ErrConflict
}

func drawRegistrationCode(ctx context.Context, tx pgx.Tx, codes *bookingcode.Generator) (string, error) {
	for draw := 0; draw < maxCodeDraws; draw++ {
		code := codes.RegistrationCode()
		var taken bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reservations
				WHERE registration_code = $1 AND status IN ('pending', 'confirmed')
			)
		`, code).Scan(&taken)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", store.ErrConflict
}

func (s *Store) GetReservation(ctx context.Context, reservationID string) (models.Reservation, error) {
	return scanReservation(s.pool.QueryRow(ctx, selectReservation+` WHERE reservation_id = $1`, reservationID))
}

func (s *Store) VerifyReservation(ctx context.Context, input store.VerifyInput) (models.Reservation, error) {
	if input.StaffID == "" {
		return models.Reservation{}, store.ErrValidation
	}
	at := input.VerifiedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	reservation, err := scanReservation(tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'confirmed', verified_at = $2, verified_by = $3,
			classification = NULLIF($4, ''), updated_at = $2
		WHERE reservation_id = $1 AND status = 'pending'
		RETURNING `+reservationColumns,
		input.ReservationID, at, input.StaffID, input.Classification,
	))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = transitionFailure(ctx, tx, input.ReservationID)
		}
		return models.Reservation{}, err
	}

	// Exactly one entry per reservation; the UNIQUE constraint backs up the
	// pending-only guard above.
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_entries (
			entry_id, reservation_id, doctor_id, visit_date, queue_number,
			patient_name, department, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (reservation_id) DO NOTHING
	`, uuid.NewString(), reservation.ReservationID, reservation.DoctorID, reservation.VisitDate,
		reservation.QueueNumber, reservation.Patient.Name, reservation.Department, at)
	if err != nil {
		return models.Reservation{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, err
	}

	s.logger.Info("reservation verified",
		zap.String("reservation_id", reservation.ReservationID),
		zap.String("staff_id", input.StaffID),
	)
	if s.notifier != nil {
		s.notifier.ReservationVerified(reservation)
	}
	s.publisher.Publish(events.FromReservation(events.TypeReservationConfirmed, reservation, at))
	return reservation, nil
}

func (s *Store) CompleteReservation(ctx context.Context, reservationID string, at time.Time) (models.Reservation, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	// The locked number stays in place: served numbers are retired for the
	// day, not recycled.
	reservation, err := scanReservation(s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE reservation_id = $1 AND status = 'confirmed'
		RETURNING `+reservationColumns, reservationID, at))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Reservation{}, s.transitionFailurePool(ctx, reservationID)
		}
		return models.Reservation{}, err
	}

	s.logger.Info("reservation completed", zap.String("reservation_id", reservationID))
	s.publisher.Publish(events.FromReservation(events.TypeReservationCompleted, reservation, at))
	return reservation, nil
}

func (s *Store) CancelReservation(ctx context.Context, reservationID string, at time.Time) (models.Reservation, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	reservation, err := scanReservation(tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE reservation_id = $1 AND status IN ('pending', 'confirmed')
		RETURNING `+reservationColumns, reservationID, at))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = transitionFailure(ctx, tx, reservationID)
		}
		return models.Reservation{}, err
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM locked_queue_numbers
		WHERE doctor_id = $1 AND visit_date = $2 AND queue_number = $3
	`, reservation.DoctorID, reservation.VisitDate, reservation.QueueNumber)
	if err != nil {
		return models.Reservation{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, err
	}

	s.logger.Info("reservation cancelled", zap.String("reservation_id", reservationID))
	s.publisher.Publish(events.FromReservation(events.TypeReservationCancelled, reservation, at))
	return reservation, nil
}

func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	today := models.DayOf(now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		UPDATE reservations
		SET status = 'cancelled', cancelled_at = $1, updated_at = $1
		WHERE status = 'pending' AND visit_date < $2
		RETURNING `+reservationColumns, now, today)
	if err != nil {
		return 0, err
	}
	expired, err := collectReservations(rows)
	if err != nil {
		return 0, err
	}

	for _, reservation := range expired {
		_, err = tx.Exec(ctx, `
			DELETE FROM locked_queue_numbers
			WHERE doctor_id = $1 AND visit_date = $2 AND queue_number = $3
		`, reservation.DoctorID, reservation.VisitDate, reservation.QueueNumber)
		if err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	for _, reservation := range expired {
		s.publisher.Publish(events.FromReservation(events.TypeReservationExpired, reservation, now))
	}
	if len(expired) > 0 {
		s.logger.Info("expired stale reservations", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (s *Store) FindByBookingCode(ctx context.Context, code string) (models.Reservation, bool, error) {
	reservation, err := scanReservation(s.pool.QueryRow(ctx, selectReservation+`
		WHERE status IN ('pending', 'confirmed')
			AND (registration_code = $1 OR department_code = $1)
		ORDER BY created_at DESC
		LIMIT 1
	`, code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Reservation{}, false, nil
		}
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]models.Reservation, error) {
	rows, err := s.pool.Query(ctx, selectReservation+`
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status string) ([]models.Reservation, error) {
	rows, err := s.pool.Query(ctx, selectReservation+`
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *Store) ListQueue(ctx context.Context, doctorID string, date time.Time) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.entry_id, e.reservation_id, e.doctor_id, e.visit_date, e.queue_number,
			e.patient_name, e.department, e.created_at
		FROM queue_entries e
		JOIN reservations r ON r.reservation_id = e.reservation_id
		WHERE e.doctor_id = $1 AND e.visit_date = $2 AND r.status = 'confirmed'
		ORDER BY e.queue_number ASC
	`, doctorID, models.DayOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		if err := rows.Scan(&entry.EntryID, &entry.ReservationID, &entry.DoctorID, &entry.VisitDate,
			&entry.QueueNumber, &entry.PatientName, &entry.Department, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) NextInQueue(ctx context.Context, doctorID string, date time.Time) (models.QueueEntry, bool, error) {
	entries, err := s.ListQueue(ctx, doctorID, date)
	if err != nil || len(entries) == 0 {
		return models.QueueEntry{}, false, err
	}
	return entries[0], true, nil
}

func (s *Store) EstimateWait(ctx context.Context, doctorID string, date time.Time, targetNumber int) (time.Duration, error) {
	var serving int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0)
		FROM reservations
		WHERE doctor_id = $1 AND visit_date = $2 AND status = 'completed'
	`, doctorID, models.DayOf(date)).Scan(&serving)
	if err != nil {
		return 0, err
	}

	ahead := targetNumber - serving
	if ahead < 0 {
		ahead = 0
	}
	return time.Duration(ahead) * time.Duration(s.minutesPerPatient) * time.Minute, nil
}

// transitionFailure distinguishes an unknown id from a status that does not
// allow the action, after a guarded UPDATE matched no row.
func transitionFailure(ctx context.Context, tx pgx.Tx, reservationID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE reservation_id = $1`, reservationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrInvalidTransition
}

func (s *Store) transitionFailurePool(ctx context.Context, reservationID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM reservations WHERE reservation_id = $1`, reservationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrInvalidTransition
}

const reservationColumns = `reservation_id, registration_code, department_code, doctor_id, department,
	visit_date, queue_number, patient_id, patient_name, patient_contact, patient_national_id,
	patient_gender, patient_birth_place, patient_birth_date, symptoms, ai_recommended_poli,
	ai_confidence, payment_method, insurer_name, insurer_number, status, classification,
	created_at, updated_at, verified_at, verified_by, completed_at, cancelled_at`

const selectReservation = `SELECT ` + reservationColumns + ` FROM reservations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (models.Reservation, error) {
	var r models.Reservation
	var contact, nationalID, gender, birthPlace sql.NullString
	var birthDate sql.NullTime
	var symptoms, aiPoli, insurerName, insurerNumber, classification sql.NullString
	var aiConfidence sql.NullFloat64
	var verifiedAt, completedAt, cancelledAt sql.NullTime
	var verifiedBy sql.NullString

	err := row.Scan(
		&r.ReservationID, &r.RegistrationCode, &r.DepartmentCode, &r.DoctorID, &r.Department,
		&r.VisitDate, &r.QueueNumber, &r.Patient.PatientID, &r.Patient.Name, &contact,
		&nationalID, &gender, &birthPlace, &birthDate, &symptoms, &aiPoli,
		&aiConfidence, &r.Payment.Method, &insurerName, &insurerNumber, &r.Status, &classification,
		&r.CreatedAt, &r.UpdatedAt, &verifiedAt, &verifiedBy, &completedAt, &cancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, store.ErrNotFound
		}
		return models.Reservation{}, err
	}

	r.Patient.Contact = contact.String
	r.Patient.NationalID = nationalID.String
	r.Patient.Gender = gender.String
	r.Patient.BirthPlace = birthPlace.String
	if birthDate.Valid {
		r.Patient.BirthDate = birthDate.Time
	}
	r.Symptoms = symptoms.String
	r.AIRecommendedPoli = aiPoli.String
	if aiConfidence.Valid {
		r.AIConfidence = aiConfidence.Float64
	}
	r.Payment.InsurerName = insurerName.String
	r.Payment.InsurerNumber = insurerNumber.String
	r.Classification = classification.String
	r.VerifiedAt = nullTimePtr(verifiedAt)
	r.VerifiedBy = nullStringPtr(verifiedBy)
	r.CompletedAt = nullTimePtr(completedAt)
	r.CancelledAt = nullTimePtr(cancelledAt)
	return r, nil
}

func collectReservations(rows pgx.Rows) ([]models.Reservation, error) {
	defer rows.Close()
	var result []models.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
