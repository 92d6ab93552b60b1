package availability

import (
	"slices"
	"testing"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
)

func TestFreeSlots_Basic(t *testing.T) {
	block := interval.Range{Start: 9 * 60, End: 10 * 60}
	busy := []interval.Range{{Start: 9*60 + 15, End: 9*60 + 45}}

	slots := FreeSlots(block, 15, busy)
	want := []interval.Minute{9 * 60, 9*60 + 45}
	if !slices.Equal(slots, want) {
		t.Fatalf("expected %v, got %v", want, slots)
	}
}

func TestFreeSlots_DropsRemainder(t *testing.T) {
	block := interval.Range{Start: 9 * 60, End: 11*60 + 30}

	slots := FreeSlots(block, 60, nil)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if slots[1].String() != "10:00" {
		t.Fatalf("expected last slot 10:00, got %s", slots[1])
	}
}

func TestFreeSlots_PartialOverlapExcludes(t *testing.T) {
	block := interval.Range{Start: 9 * 60, End: 12 * 60}
	// A 90 minute booking from 09:00 also blocks the 10:00 slot.
	busy := []interval.Range{interval.Of(9*60, 90)}

	slots := FreeSlots(block, 60, busy)
	if len(slots) != 1 || slots[0].String() != "11:00" {
		t.Fatalf("expected only 11:00, got %v", slots)
	}
}

func TestFreeSlots_Degenerate(t *testing.T) {
	if got := FreeSlots(interval.Range{Start: 600, End: 540}, 60, nil); got != nil {
		t.Fatalf("expected nil for inverted block, got %v", got)
	}
	if got := FreeSlots(interval.Range{Start: 540, End: 600}, 0, nil); got != nil {
		t.Fatalf("expected nil for zero increment, got %v", got)
	}
}
