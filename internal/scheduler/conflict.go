package scheduler

import "time"

// Slot represents a room reservation interval considered for conflict detection.
type Slot struct {
	ID        string
	RoomID    string
	Start     time.Time
	End       time.Time
	Cancelled bool
}

// Conflict details an existing slot that overlaps the candidate.
type Conflict struct {
	WithID string
	RoomID string
	Start  time.Time
	End    time.Time
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) share any instant. Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// DetectConflicts returns the existing slots that block the candidate.
//
// Only non-cancelled slots in the same room count. A slot sharing the
// candidate's ID is skipped so an edited booking never conflicts with itself.
func DetectConflicts(existing []Slot, candidate Slot) []Conflict {
	var conflicts []Conflict
	for _, slot := range existing {
		if slot.Cancelled || slot.RoomID != candidate.RoomID {
			continue
		}
		if candidate.ID != "" && slot.ID == candidate.ID {
			continue
		}
		if !Overlaps(slot.Start, slot.End, candidate.Start, candidate.End) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithID: slot.ID,
			RoomID: slot.RoomID,
			Start:  slot.Start,
			End:    slot.End,
		})
	}
	return conflicts
}

// FirstInternalConflict checks a batch of candidates against each other and
// returns the index of the first slot overlapping an earlier one, or -1.
func FirstInternalConflict(batch []Slot) int {
	for i := 1; i < len(batch); i++ {
		if len(DetectConflicts(batch[:i], batch[i])) > 0 {
			return i
		}
	}
	return -1
}
