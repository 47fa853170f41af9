package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
)

// Integration test; needs a migrated database.
//
//	TEST_DATABASE_URL=postgres://... go test ./internal/store/postgres/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	for _, table := range []string{"queue_entries", "locked_queue_numbers", "reservations"} {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return pool
}

func createInput(patientID, doctorID string, visitDate time.Time) store.CreateReservationInput {
	return store.CreateReservationInput{
		Patient:    models.PatientSnapshot{PatientID: patientID, Name: "Budi Santoso"},
		DoctorID:   doctorID,
		Department: "Poli Umum",
		VisitDate:  visitDate,
		Payment:    models.PaymentInfo{Method: models.PaymentCash},
	}
}

func TestLifecycle(t *testing.T) {
	pool := testPool(t)
	s := NewStore(pool, Options{})
	ctx := context.Background()
	visitDate := models.DayOf(time.Now().UTC())

	first, err := s.CreateReservation(ctx, createInput("pat-1", "doc-1", visitDate))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.QueueNumber != 1 || first.Status != models.StatusPending {
		t.Fatalf("unexpected reservation %+v", first)
	}

	second, err := s.CreateReservation(ctx, createInput("pat-2", "doc-1", visitDate))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.QueueNumber != 2 {
		t.Fatalf("expected number 2, got %d", second.QueueNumber)
	}

	confirmed, err := s.VerifyReservation(ctx, store.VerifyInput{
		ReservationID: first.ReservationID,
		StaffID:       "staff-1",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if confirmed.Status != models.StatusConfirmed || confirmed.VerifiedBy == nil {
		t.Fatalf("unexpected confirmed reservation %+v", confirmed)
	}

	if _, err := s.VerifyReservation(ctx, store.VerifyInput{
		ReservationID: first.ReservationID,
		StaffID:       "staff-1",
	}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on re-verify, got %v", err)
	}

	entries, err := s.ListQueue(ctx, "doc-1", visitDate)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(entries) != 1 || entries[0].ReservationID != first.ReservationID {
		t.Fatalf("unexpected queue %+v", entries)
	}

	done, err := s.CompleteReservation(ctx, first.ReservationID, time.Time{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusCompleted {
		t.Fatalf("unexpected status %s", done.Status)
	}

	// Completed number stays retired; cancelling the pending one frees 2.
	if _, err := s.CancelReservation(ctx, second.ReservationID, time.Time{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	third, err := s.CreateReservation(ctx, createInput("pat-3", "doc-1", visitDate))
	if err != nil {
		t.Fatalf("create third: %v", err)
	}
	if third.QueueNumber != 2 {
		t.Fatalf("expected freed number 2, got %d", third.QueueNumber)
	}
}

func TestFindByBookingCodeRoundTrip(t *testing.T) {
	pool := testPool(t)
	s := NewStore(pool, Options{})
	ctx := context.Background()

	reservation, err := s.CreateReservation(ctx, createInput("pat-1", "doc-1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byReg, found, err := s.FindByBookingCode(ctx, reservation.RegistrationCode)
	if err != nil || !found || byReg.ReservationID != reservation.ReservationID {
		t.Fatalf("registration code lookup failed: %v %v %+v", err, found, byReg)
	}

	byDept, found, err := s.FindByBookingCode(ctx, reservation.DepartmentCode)
	if err != nil || !found || byDept.ReservationID != reservation.ReservationID {
		t.Fatalf("department code lookup failed: %v %v %+v", err, found, byDept)
	}

	if _, err := s.CancelReservation(ctx, reservation.ReservationID, time.Time{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, found, err := s.FindByBookingCode(ctx, reservation.RegistrationCode); err != nil || found {
		t.Fatalf("cancelled reservation should not resolve, found=%v err=%v", found, err)
	}
}

func TestExpireStale(t *testing.T) {
	pool := testPool(t)
	s := NewStore(pool, Options{})
	ctx := context.Background()
	yesterday := models.DayOf(time.Now().UTC()).AddDate(0, 0, -1)

	stale, err := s.CreateReservation(ctx, createInput("pat-1", "doc-1", yesterday))
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	fresh, err := s.CreateReservation(ctx, createInput("pat-2", "doc-1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	count, err := s.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired, got %d", count)
	}

	got, err := s.GetReservation(ctx, stale.ReservationID)
	if err != nil || got.Status != models.StatusCancelled {
		t.Fatalf("stale reservation not cancelled: %v %+v", err, got)
	}
	got, err = s.GetReservation(ctx, fresh.ReservationID)
	if err != nil || got.Status != models.StatusPending {
		t.Fatalf("fresh reservation touched: %v %+v", err, got)
	}
}
