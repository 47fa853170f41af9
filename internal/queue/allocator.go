// Package queue owns the per-(doctor, visit date) sets of locked queue
// numbers. It guarantees at most one holder per number per key and always
// hands out the smallest unused positive integer.
package queue

import (
	"sync"
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
)

type Allocator struct {
	mu   sync.Mutex
	keys map[string]*lockedSet
}

// lockedSet serializes all lock/unlock traffic for one (doctor, date) key so
// unrelated doctors never contend on the same mutex.
type lockedSet struct {
	mu      sync.Mutex
	numbers map[int]struct{}
}

func NewAllocator() *Allocator {
	return &Allocator{keys: make(map[string]*lockedSet)}
}

func (a *Allocator) keySet(doctorID string, date time.Time) *lockedSet {
	key := doctorID + "|" + models.DayKey(date)
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.keys[key]
	if !ok {
		set = &lockedSet{numbers: make(map[int]struct{})}
		a.keys[key] = set
	}
	return set
}

// NextNumber returns the smallest integer >= 1 not currently locked for the
// key. Pure query; a concurrent caller may take the number before Lock is
// called, in which case Lock reports false and the caller retries the pair.
func (a *Allocator) NextNumber(doctorID string, date time.Time) int {
	set := a.keySet(doctorID, date)
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.lowestFree()
}

// Lock attempts to add number to the key's locked set. It returns false
// without mutation when the number is already held.
func (a *Allocator) Lock(doctorID string, date time.Time, number int) bool {
	if number < 1 {
		return false
	}
	set := a.keySet(doctorID, date)
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, held := set.numbers[number]; held {
		return false
	}
	set.numbers[number] = struct{}{}
	return true
}

// Unlock removes number from the key's locked set. Unlocking a number that is
// not held is a no-op.
func (a *Allocator) Unlock(doctorID string, date time.Time, number int) {
	set := a.keySet(doctorID, date)
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.numbers, number)
}

func (a *Allocator) IsAvailable(doctorID string, date time.Time, number int) bool {
	if number < 1 {
		return false
	}
	set := a.keySet(doctorID, date)
	set.mu.Lock()
	defer set.mu.Unlock()
	_, held := set.numbers[number]
	return !held
}

func (s *lockedSet) lowestFree() int {
	number := 1
	for {
		if _, held := s.numbers[number]; !held {
			return number
		}
		number++
	}
}
