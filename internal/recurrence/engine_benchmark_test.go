package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineSlotsWeekly(b *testing.B) {
	engine := NewEngine(nil)
	start := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	until := start.AddDate(1, 0, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		slots, err := engine.Slots(start, end, KindWeekly, &until)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(slots) == 0 {
			b.Fatal("expected slots to be generated")
		}
	}
}
