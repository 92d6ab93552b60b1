package model

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
)

// WorkBlock is a contiguous stretch of an employee's working time on one date. Time ranges
// are never edited; a block is replaced by deactivating it and creating another.
type WorkBlock struct {
	ID            string
	EmployeeID    string
	Date          time.Time
	Start         interval.Minute
	End           interval.Minute
	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

func (b WorkBlock) Range() interval.Range {
	return interval.Range{Start: b.Start, End: b.End}
}
