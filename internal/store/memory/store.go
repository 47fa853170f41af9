// Package memory implements the reservation store over in-process state: the
// queue allocator, the entry tracker, and the reservation map, kept in
// lockstep under one store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NikWasHere/magang-rspb-sub000/internal/bookingcode"
	"github.com/NikWasHere/magang-rspb-sub000/internal/events"
	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
	"github.com/NikWasHere/magang-rspb-sub000/internal/queue"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
	"github.com/NikWasHere/magang-rspb-sub000/internal/tracker"
)

const (
	// How many NextNumber/Lock rounds a create may lose before the caller is
	// told to retry the whole request.
	maxLockAttempts = 32
	// How many registration-code draws may collide before create gives up.
	maxCodeDraws = 100

	defaultMinutesPerPatient = 15
)

// Notifier receives fire-and-forget transition notifications.
type Notifier interface {
	ReservationCreated(models.Reservation)
	ReservationVerified(models.Reservation)
}

type Store struct {
	mu           sync.RWMutex
	reservations map[string]*models.Reservation
	byRegCode    map[string]string

	allocator *queue.Allocator
	tracker   *tracker.Tracker
	codes     *bookingcode.Generator
	notifier  Notifier
	publisher events.Publisher
	logger    *zap.Logger

	minutesPerPatient int
}

type Options struct {
	Codes             *bookingcode.Generator
	Notifier          Notifier
	Publisher         events.Publisher
	Logger            *zap.Logger
	MinutesPerPatient int
}

func NewStore(options Options) *Store {
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
		reservations:      make(map[string]*models.Reservation),
		byRegCode:         make(map[string]string),
		allocator:         queue.NewAllocator(),
		tracker:           tracker.New(),
		codes:             codes,
		notifier:          options.Notifier,
		publisher:         publisher,
		logger:            logger,
		minutesPerPatient: minutes,
	}
}

// Allocator exposes the locked-number sets for availability queries. Mutation
// stays inside the store's transitions.
func (s *Store) Allocator() *queue.Allocator {
	return s.allocator
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

	number := 0
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		n := s.allocator.NextNumber(input.DoctorID, visitDate)
		if s.allocator.Lock(input.DoctorID, visitDate, n) {
			number = n
			break
		}
	}
	if number == 0 {
		return models.Reservation{}, store.ErrConflict
	}

	s.mu.Lock()
	regCode, err := s.drawRegistrationCodeLocked()
	if err != nil {
		s.mu.Unlock()
		// The number must not stay orphaned when persistence fails after a
		// successful lock.
		s.allocator.Unlock(input.DoctorID, visitDate, number)
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
	s.reservations[reservation.ReservationID] = &reservation
	s.byRegCode[regCode] = reservation.ReservationID
	result := reservation
	s.mu.Unlock()

	s.logger.Info("reservation created",
		zap.String("reservation_id", result.ReservationID),
		zap.String("doctor_id", result.DoctorID),
		zap.String("visit_date", models.DayKey(result.VisitDate)),
		zap.Int("queue_number", result.QueueNumber),
	)
	if s.notifier != nil {
		s.notifier.ReservationCreated(result)
	}
	s.publisher.Publish(events.FromReservation(events.TypeReservationCreated, result, createdAt))
	return result, nil
}

// drawRegistrationCodeLocked redraws until the code is unique among live
// reservations. Codes held by completed or cancelled reservations have been
// returned to the pool.
func (s *Store) drawRegistrationCodeLocked() (string, error) {
	if len(s.byRegCode) >= s.codes.CodeSpace() {
		return "", store.ErrConflict
	}
	for draw := 0; draw < maxCodeDraws; draw++ {
		code := s.codes.RegistrationCode()
		if _, taken := s.byRegCode[code]; !taken {
			return code, nil
		}
	}
	return "", store.ErrConflict
}

func (s *Store) GetReservation(ctx context.Context, reservationID string) (models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reservation, ok := s.reservations[reservationID]
	if !ok {
		return models.Reservation{}, store.ErrNotFound
	}
	return *reservation, nil
}

func (s *Store) VerifyReservation(ctx context.Context, input store.VerifyInput) (models.Reservation, error) {
	if input.StaffID == "" {
		return models.Reservation{}, store.ErrValidation
	}
	at := input.VerifiedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	reservation, ok := s.reservations[input.ReservationID]
	if !ok {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrNotFound
	}
	if !store.ValidTransition("verify", reservation.Status) {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrInvalidTransition
	}

	staffID := input.StaffID
	reservation.Status = models.StatusConfirmed
	reservation.VerifiedAt = &at
	reservation.VerifiedBy = &staffID
	reservation.Classification = input.Classification
	reservation.UpdatedAt = at

	s.tracker.Add(models.QueueEntry{
		EntryID:       uuid.NewString(),
		ReservationID: reservation.ReservationID,
		DoctorID:      reservation.DoctorID,
		VisitDate:     reservation.VisitDate,
		QueueNumber:   reservation.QueueNumber,
		PatientName:   reservation.Patient.Name,
		Department:    reservation.Department,
		CreatedAt:     at,
	})
	result := *reservation
	s.mu.Unlock()

	s.logger.Info("reservation verified",
		zap.String("reservation_id", result.ReservationID),
		zap.String("staff_id", staffID),
		zap.Int("queue_number", result.QueueNumber),
	)
	if s.notifier != nil {
		s.notifier.ReservationVerified(result)
	}
	s.publisher.Publish(events.FromReservation(events.TypeReservationConfirmed, result, at))
	return result, nil
}

func (s *Store) CompleteReservation(ctx context.Context, reservationID string, at time.Time) (models.Reservation, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	reservation, ok := s.reservations[reservationID]
	if !ok {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrNotFound
	}
	if !store.ValidTransition("complete", reservation.Status) {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrInvalidTransition
	}

	reservation.Status = models.StatusCompleted
	reservation.CompletedAt = &at
	reservation.UpdatedAt = at
	// The number stays locked: a served number is retired for the day, never
	// recycled to a new patient.
	delete(s.byRegCode, reservation.RegistrationCode)
	result := *reservation
	s.mu.Unlock()

	s.logger.Info("reservation completed",
		zap.String("reservation_id", result.ReservationID),
		zap.Int("queue_number", result.QueueNumber),
	)
	s.publisher.Publish(events.FromReservation(events.TypeReservationCompleted, result, at))
	return result, nil
}

func (s *Store) CancelReservation(ctx context.Context, reservationID string, at time.Time) (models.Reservation, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	reservation, ok := s.reservations[reservationID]
	if !ok {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrNotFound
	}
	if !store.ValidTransition("cancel", reservation.Status) {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrInvalidTransition
	}

	s.cancelLocked(reservation, at)
	result := *reservation
	s.mu.Unlock()

	s.logger.Info("reservation cancelled",
		zap.String("reservation_id", result.ReservationID),
		zap.Int("queue_number", result.QueueNumber),
	)
	s.publisher.Publish(events.FromReservation(events.TypeReservationCancelled, result, at))
	return result, nil
}

func (s *Store) cancelLocked(reservation *models.Reservation, at time.Time) {
	reservation.Status = models.StatusCancelled
	reservation.CancelledAt = &at
	reservation.UpdatedAt = at
	delete(s.byRegCode, reservation.RegistrationCode)
	s.allocator.Unlock(reservation.DoctorID, reservation.VisitDate, reservation.QueueNumber)
}

// ExpireStale cancels every pending reservation whose visit date has already
// passed and reclaims its number. Confirmed reservations are left alone.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	today := models.DayOf(now)

	s.mu.Lock()
	var expired []models.Reservation
	for _, reservation := range s.reservations {
		if reservation.Status != models.StatusPending {
			continue
		}
		if !reservation.VisitDate.Before(today) {
			continue
		}
		s.cancelLocked(reservation, now)
		expired = append(expired, *reservation)
	}
	s.mu.Unlock()

	for _, reservation := range expired {
		s.logger.Info("reservation expired",
			zap.String("reservation_id", reservation.ReservationID),
			zap.String("visit_date", models.DayKey(reservation.VisitDate)),
		)
		s.publisher.Publish(events.FromReservation(events.TypeReservationExpired, reservation, now))
	}
	return len(expired), nil
}

// FindByBookingCode looks a live reservation up by registration code first,
// then by department code. Department codes repeat across dates, so the most
// recent live match wins.
func (s *Store) FindByBookingCode(ctx context.Context, code string) (models.Reservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byRegCode[code]; ok {
		return *s.reservations[id], true, nil
	}

	var best *models.Reservation
	for _, reservation := range s.reservations {
		if models.Terminal(reservation.Status) || reservation.DepartmentCode != code {
			continue
		}
		if best == nil || reservation.CreatedAt.After(best.CreatedAt) {
			best = reservation
		}
	}
	if best == nil {
		return models.Reservation{}, false, nil
	}
	return *best, true, nil
}

func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Reservation
	for _, reservation := range s.reservations {
		if reservation.Patient.PatientID == patientID {
			result = append(result, *reservation)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListByStatus(ctx context.Context, status string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Reservation
	for _, reservation := range s.reservations {
		if reservation.Status == status {
			result = append(result, *reservation)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListQueue returns the confirmed-but-not-completed entries for the key,
// ascending by queue number.
func (s *Store) ListQueue(ctx context.Context, doctorID string, date time.Time) ([]models.QueueEntry, error) {
	entries := s.tracker.List(doctorID, date)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var waiting []models.QueueEntry
	for _, entry := range entries {
		reservation, ok := s.reservations[entry.ReservationID]
		if !ok || reservation.Status != models.StatusConfirmed {
			continue
		}
		waiting = append(waiting, entry)
	}
	return waiting, nil
}

func (s *Store) NextInQueue(ctx context.Context, doctorID string, date time.Time) (models.QueueEntry, bool, error) {
	waiting, err := s.ListQueue(ctx, doctorID, date)
	if err != nil || len(waiting) == 0 {
		return models.QueueEntry{}, false, err
	}
	return waiting[0], true, nil
}

// EstimateWait approximates the wait for targetNumber as
// max(0, target - currently serving) * minutes per patient, where the serving
// number is the highest completed number for the key.
func (s *Store) EstimateWait(ctx context.Context, doctorID string, date time.Time, targetNumber int) (time.Duration, error) {
	day := models.DayKey(date)

	s.mu.RLock()
	serving := 0
	for _, reservation := range s.reservations {
		if reservation.DoctorID != doctorID || models.DayKey(reservation.VisitDate) != day {
			continue
		}
		if reservation.Status == models.StatusCompleted && reservation.QueueNumber > serving {
			serving = reservation.QueueNumber
		}
	}
	s.mu.RUnlock()

	ahead := targetNumber - serving
	if ahead < 0 {
		ahead = 0
	}
	return time.Duration(ahead) * time.Duration(s.minutesPerPatient) * time.Minute, nil
}
