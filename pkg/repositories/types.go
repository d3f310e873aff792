package repositories

import "fmt"

type ErrNotFound struct {
	HouseID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("house %s not found", e.HouseID)
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
