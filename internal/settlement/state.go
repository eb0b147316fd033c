package settlement

import (
	"fmt"

	"fanpool/internal/models"
)

var transitions = map[string][]string{
	models.PoolStatusOpen:     {models.PoolStatusClosed},
	models.PoolStatusClosed:   {models.PoolStatusSettling},
	models.PoolStatusSettling: {models.PoolStatusSettling, models.PoolStatusSettled},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
