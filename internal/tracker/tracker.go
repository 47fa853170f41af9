// Package tracker keeps the per-(doctor, visit date) ordered view of queue
// entries created at verification time. It is a derived index; reservation
// status stays authoritative for whether a patient is still waiting.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
)

type Tracker struct {
	mu      sync.RWMutex
	entries map[string][]models.QueueEntry
	seen    map[string]bool
}

func New() *Tracker {
	return &Tracker{
		entries: make(map[string][]models.QueueEntry),
		seen:    make(map[string]bool),
	}
}

func key(doctorID string, date time.Time) string {
	return doctorID + "|" + models.DayKey(date)
}

// Add inserts the entry in queue-number order. It returns false without
// mutation when the reservation already has an entry.
func (t *Tracker) Add(entry models.QueueEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[entry.ReservationID] {
		return false
	}
	t.seen[entry.ReservationID] = true

	k := key(entry.DoctorID, entry.VisitDate)
	list := append(t.entries[k], entry)
	sort.Slice(list, func(i, j int) bool {
		return list[i].QueueNumber < list[j].QueueNumber
	})
	t.entries[k] = list
	return true
}

// List returns the key's entries ascending by queue number.
func (t *Tracker) List(doctorID string, date time.Time) []models.QueueEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.entries[key(doctorID, date)]
	out := make([]models.QueueEntry, len(list))
	copy(out, list)
	return out
}

// Has reports whether the reservation already produced an entry.
func (t *Tracker) Has(reservationID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[reservationID]
}
