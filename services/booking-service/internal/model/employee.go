package model

import (
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
)

type Employee struct {
	ID        string
	FirstName string
	LastName  string
}

// DisplayName is the full name shown to clients, or the id when no name is on file.
func (e Employee) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
	if name == "" {
		return e.ID
	}
	return name
}

// AvailableSlot is one free (employee, slot) pair for a date.
type AvailableSlot struct {
	EmployeeID  string
	Slot        interval.Minute
	DisplayName string
}
