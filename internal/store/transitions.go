package store

import "github.com/NikWasHere/magang-rspb-sub000/internal/models"

var transitionMap = map[string][]string{
	"verify":   {models.StatusPending},
	"complete": {models.StatusConfirmed},
	"cancel":   {models.StatusPending, models.StatusConfirmed},
	"expire":   {models.StatusPending},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
