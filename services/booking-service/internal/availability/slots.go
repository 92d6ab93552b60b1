package availability

import "github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"

// FreeSlots returns the slot starts generated across block at the given increment whose
// one-increment range does not overlap any busy range. Longer bookings are validated when
// they are reserved.
func FreeSlots(block interval.Range, incrementMinutes int, busy []interval.Range) []interval.Minute {
	if incrementMinutes <= 0 || !block.Valid() {
		return nil
	}
	var slots []interval.Minute
	for slot := range interval.Slots(block.Start, block.End, incrementMinutes) {
		if !overlapsAny(interval.Of(slot, incrementMinutes), busy) {
			slots = append(slots, slot)
		}
	}
	return slots
}

func overlapsAny(r interval.Range, busy []interval.Range) bool {
	for _, b := range busy {
		if r.Overlaps(b) {
			return true
		}
	}
	return false
}
