package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/bookingcode"
	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
)

var visitDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func createInput(patientID string) store.CreateReservationInput {
	return store.CreateReservationInput{
		Patient: models.PatientSnapshot{
			PatientID: patientID,
			Name:      "Budi Santoso",
			Contact:   "0811111111",
		},
		DoctorID:   "doc-1",
		Department: "Poli Umum",
		VisitDate:  visitDay,
		Symptoms:   "demam",
		Payment:    models.PaymentInfo{Method: models.PaymentCash},
	}
}

func mustCreate(t *testing.T, s *Store, input store.CreateReservationInput) models.Reservation {
	t.Helper()
	reservation, err := s.CreateReservation(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	return reservation
}

func mustVerify(t *testing.T, s *Store, reservationID string) models.Reservation {
	t.Helper()
	reservation, err := s.VerifyReservation(context.Background(), store.VerifyInput{
		ReservationID: reservationID,
		StaffID:       "staff-1",
	})
	if err != nil {
		t.Fatalf("VerifyReservation: %v", err)
	}
	return reservation
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	s := NewStore(Options{})

	for want := 1; want <= 3; want++ {
		reservation := mustCreate(t, s, createInput("pat-1"))
		if reservation.QueueNumber != want {
			t.Fatalf("queue number = %d, want %d", reservation.QueueNumber, want)
		}
		if reservation.Status != models.StatusPending {
			t.Fatalf("status = %q, want pending", reservation.Status)
		}
		if len(reservation.RegistrationCode) != 4 {
			t.Fatalf("registration code %q not 4 digits", reservation.RegistrationCode)
		}
	}
}

func TestCancelFreesLowestNumberFirst(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	first := mustCreate(t, s, createInput("pat-1"))
	second := mustCreate(t, s, createInput("pat-2"))
	third := mustCreate(t, s, createInput("pat-3"))
	if first.QueueNumber != 1 || second.QueueNumber != 2 || third.QueueNumber != 3 {
		t.Fatalf("unexpected numbers %d,%d,%d", first.QueueNumber, second.QueueNumber, third.QueueNumber)
	}

	if _, err := s.CancelReservation(ctx, second.ReservationID, time.Time{}); err != nil {
		t.Fatalf("CancelReservation: %v", err)
	}
	if !s.Allocator().IsAvailable("doc-1", visitDay, 2) {
		t.Fatal("cancelled number still locked")
	}

	fourth := mustCreate(t, s, createInput("pat-4"))
	if fourth.QueueNumber != 2 {
		t.Fatalf("reused number = %d, want 2", fourth.QueueNumber)
	}
}

func TestVerifyCreatesSingleQueueEntry(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	reservation := mustCreate(t, s, createInput("pat-1"))
	confirmed := mustVerify(t, s, reservation.ReservationID)
	if confirmed.Status != models.StatusConfirmed {
		t.Fatalf("status = %q, want confirmed", confirmed.Status)
	}
	if confirmed.VerifiedAt == nil || confirmed.VerifiedBy == nil || *confirmed.VerifiedBy != "staff-1" {
		t.Fatal("verification stamps missing")
	}

	entries, err := s.ListQueue(ctx, "doc-1", visitDay)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(entries) != 1 || entries[0].QueueNumber != 1 {
		t.Fatalf("queue = %+v, want single entry with number 1", entries)
	}

	_, err = s.VerifyReservation(ctx, store.VerifyInput{ReservationID: reservation.ReservationID, StaffID: "staff-2"})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("second verify error = %v, want ErrInvalidTransition", err)
	}
	entries, _ = s.ListQueue(ctx, "doc-1", visitDay)
	if len(entries) != 1 {
		t.Fatalf("second verify duplicated the entry: %d entries", len(entries))
	}
}

func TestCompleteRequiresConfirmedAndRetiresNumber(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	reservation := mustCreate(t, s, createInput("pat-1"))
	if _, err := s.CompleteReservation(ctx, reservation.ReservationID, time.Time{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("complete from pending error = %v, want ErrInvalidTransition", err)
	}

	mustVerify(t, s, reservation.ReservationID)
	completed, err := s.CompleteReservation(ctx, reservation.ReservationID, time.Time{})
	if err != nil {
		t.Fatalf("CompleteReservation: %v", err)
	}
	if completed.Status != models.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("completion stamps missing: %+v", completed)
	}

	if s.Allocator().IsAvailable("doc-1", visitDay, completed.QueueNumber) {
		t.Fatal("completed number returned to the pool")
	}
	next := mustCreate(t, s, createInput("pat-2"))
	if next.QueueNumber != 2 {
		t.Fatalf("next number = %d, want 2 (served number must stay retired)", next.QueueNumber)
	}
}

func TestCancelConfirmedReservation(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	reservation := mustCreate(t, s, createInput("pat-1"))
	mustVerify(t, s, reservation.ReservationID)

	cancelled, err := s.CancelReservation(ctx, reservation.ReservationID, time.Time{})
	if err != nil {
		t.Fatalf("cancel confirmed: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}

	if _, err := s.CancelReservation(ctx, reservation.ReservationID, time.Time{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("cancel of cancelled error = %v, want ErrInvalidTransition", err)
	}

	entries, _ := s.ListQueue(ctx, "doc-1", visitDay)
	if len(entries) != 0 {
		t.Fatalf("cancelled reservation still listed in queue: %+v", entries)
	}
}

func TestTransitionsOnUnknownID(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	if _, err := s.GetReservation(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get error = %v, want ErrNotFound", err)
	}
	if _, err := s.VerifyReservation(ctx, store.VerifyInput{ReservationID: "missing", StaffID: "staff-1"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("verify error = %v, want ErrNotFound", err)
	}
	if _, err := s.CompleteReservation(ctx, "missing", time.Time{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("complete error = %v, want ErrNotFound", err)
	}
	if _, err := s.CancelReservation(ctx, "missing", time.Time{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cancel error = %v, want ErrNotFound", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	cases := []func(*store.CreateReservationInput){
		func(i *store.CreateReservationInput) { i.Patient.PatientID = "" },
		func(i *store.CreateReservationInput) { i.Patient.Name = "" },
		func(i *store.CreateReservationInput) { i.DoctorID = "" },
		func(i *store.CreateReservationInput) { i.Department = "" },
		func(i *store.CreateReservationInput) { i.VisitDate = time.Time{} },
		func(i *store.CreateReservationInput) { i.Payment.Method = "barter" },
	}
	for n, mutate := range cases {
		input := createInput("pat-1")
		mutate(&input)
		if _, err := s.CreateReservation(ctx, input); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: error = %v, want ErrValidation", n, err)
		}
	}

	if got := s.Allocator().NextNumber("doc-1", visitDay); got != 1 {
		t.Fatalf("failed creates leaked locked numbers; next = %d", got)
	}
}

func TestExpireStaleOnlyPending(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	yesterday := visitDay.AddDate(0, 0, -1)
	staleInput := createInput("pat-1")
	staleInput.VisitDate = yesterday
	stale := mustCreate(t, s, staleInput)

	confirmedInput := createInput("pat-2")
	confirmedInput.VisitDate = yesterday
	confirmedStale := mustCreate(t, s, confirmedInput)
	mustVerify(t, s, confirmedStale.ReservationID)

	fresh := mustCreate(t, s, createInput("pat-3"))

	count, err := s.ExpireStale(ctx, visitDay)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired %d reservations, want 1", count)
	}

	got, _ := s.GetReservation(ctx, stale.ReservationID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("stale pending status = %q, want cancelled", got.Status)
	}
	if !s.Allocator().IsAvailable("doc-1", yesterday, stale.QueueNumber) {
		t.Fatal("expired number still locked")
	}

	got, _ = s.GetReservation(ctx, confirmedStale.ReservationID)
	if got.Status != models.StatusConfirmed {
		t.Fatalf("stale confirmed status = %q, want confirmed", got.Status)
	}
	got, _ = s.GetReservation(ctx, fresh.ReservationID)
	if got.Status != models.StatusPending {
		t.Fatalf("fresh pending status = %q, want pending", got.Status)
	}
}

func TestFindByBookingCode(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	reservation := mustCreate(t, s, createInput("pat-1"))

	byReg, found, err := s.FindByBookingCode(ctx, reservation.RegistrationCode)
	if err != nil || !found || byReg.ReservationID != reservation.ReservationID {
		t.Fatalf("lookup by registration code failed: %v found=%v", err, found)
	}

	byDept, found, err := s.FindByBookingCode(ctx, reservation.DepartmentCode)
	if err != nil || !found || byDept.ReservationID != reservation.ReservationID {
		t.Fatalf("lookup by department code failed: %v found=%v", err, found)
	}

	if _, found, _ := s.FindByBookingCode(ctx, "0000-nope"); found {
		t.Fatal("unknown code reported found")
	}

	s.CancelReservation(ctx, reservation.ReservationID, time.Time{})
	if _, found, _ := s.FindByBookingCode(ctx, reservation.RegistrationCode); found {
		t.Fatal("cancelled reservation still resolvable by code")
	}
}

func TestRegistrationCodesUniqueAmongLive(t *testing.T) {
	// Width 1 shrinks the space to ten codes so collisions are forced.
	s := NewStore(Options{Codes: bookingcode.New(bookingcode.Options{RegistrationWidth: 1})})
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		reservation := mustCreate(t, s, createInput("pat-1"))
		if seen[reservation.RegistrationCode] {
			t.Fatalf("duplicate live registration code %q", reservation.RegistrationCode)
		}
		seen[reservation.RegistrationCode] = true
	}

	if _, err := s.CreateReservation(ctx, createInput("pat-1")); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("exhausted code space error = %v, want ErrConflict", err)
	}
	// The failed create must not leave its queue number locked.
	if got := s.Allocator().NextNumber("doc-1", visitDay); got != 11 {
		t.Fatalf("next number = %d, want 11", got)
	}
}

func TestListByPatientNewestFirst(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	base := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		input := createInput("pat-1")
		input.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		mustCreate(t, s, input)
	}
	mustCreate(t, s, createInput("pat-2"))

	list, err := s.ListByPatient(ctx, "pat-1")
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d reservations, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatal("reservations not newest-first")
		}
	}
}

func TestEstimateWait(t *testing.T) {
	s := NewStore(Options{MinutesPerPatient: 10})
	ctx := context.Background()

	first := mustCreate(t, s, createInput("pat-1"))
	second := mustCreate(t, s, createInput("pat-2"))
	mustCreate(t, s, createInput("pat-3"))

	mustVerify(t, s, first.ReservationID)
	mustVerify(t, s, second.ReservationID)
	if _, err := s.CompleteReservation(ctx, first.ReservationID, time.Time{}); err != nil {
		t.Fatalf("CompleteReservation: %v", err)
	}

	wait, err := s.EstimateWait(ctx, "doc-1", visitDay, 3)
	if err != nil {
		t.Fatalf("EstimateWait: %v", err)
	}
	if wait != 20*time.Minute {
		t.Fatalf("wait = %v, want 20m", wait)
	}

	wait, _ = s.EstimateWait(ctx, "doc-1", visitDay, 1)
	if wait != 0 {
		t.Fatalf("wait for served number = %v, want 0", wait)
	}
}

func TestConcurrentCreatesDistinctNumbers(t *testing.T) {
	s := NewStore(Options{})
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan models.Reservation, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservation, err := s.CreateReservation(ctx, createInput("pat-1"))
			if err != nil {
				t.Errorf("CreateReservation: %v", err)
				return
			}
			results <- reservation
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for reservation := range results {
		if seen[reservation.QueueNumber] {
			t.Fatalf("queue number %d assigned twice", reservation.QueueNumber)
		}
		seen[reservation.QueueNumber] = true
	}
	for n := 1; n <= workers; n++ {
		if !seen[n] {
			t.Fatalf("number %d skipped", n)
		}
	}
}
