package schedule_test

import (
	stderrors "errors"
	"testing"

	"github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/schedule"
)

func checkInvariants(t *testing.T, durations []int, total int) {
	t.Helper()
	sum := 0
	for i, d := range durations {
		if d%schedule.Granule != 0 {
			t.Errorf("phase %d duration %d is not a multiple of %d", i, d, schedule.Granule)
		}
		if d < schedule.Granule {
			t.Errorf("phase %d duration %d is below the minimum", i, d)
		}
		sum += d
	}
	if sum != total {
		t.Errorf("durations sum to %d, want %d", sum, total)
	}
}

func TestRedistribute_TwelvePhaseDay(t *testing.T) {
	defaults := []int{10, 15, 5, 15, 10, 10, 15, 10, 5, 10, 8, 7} // 120 total
	result, err := schedule.Redistribute(defaults, 90)
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	checkInvariants(t, result, 90)
}

func TestRedistribute_Identity(t *testing.T) {
	defaults := []int{10, 15, 5, 20}
	result, err := schedule.Redistribute(defaults, 50)
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	for i, d := range defaults {
		if result[i] != d {
			t.Errorf("phase %d: expected unchanged %d, got %d", i, d, result[i])
		}
	}
}

func TestRedistribute_ScalesUp(t *testing.T) {
	defaults := []int{10, 10, 10}
	result, err := schedule.Redistribute(defaults, 60)
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	checkInvariants(t, result, 60)
	for i, d := range result {
		if d != 20 {
			t.Errorf("phase %d: expected 20, got %d", i, d)
		}
	}
}

func TestRedistribute_FloorsAtMinimum(t *testing.T) {
	// The 1-minute phase would round to 0; it must be floored at the
	// granule and the excess taken from the largest phases
	defaults := []int{1, 60, 60}
	result, err := schedule.Redistribute(defaults, 60)
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	checkInvariants(t, result, 60)
	if result[0] != schedule.Granule {
		t.Errorf("expected minimum duration for tiny phase, got %d", result[0])
	}
}

func TestRedistribute_TightTotal(t *testing.T) {
	// Exactly one granule per phase is the smallest legal total
	defaults := []int{30, 40, 50}
	result, err := schedule.Redistribute(defaults, 15)
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	checkInvariants(t, result, 15)
}

func TestRedistribute_Deterministic(t *testing.T) {
	defaults := []int{12, 8, 17, 23, 9}
	first, err := schedule.Redistribute(defaults, 75)
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := schedule.Redistribute(defaults, 75)
		if err != nil {
			t.Fatalf("Redistribute failed: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: phase %d differs (%d vs %d)", i, j, again[j], first[j])
			}
		}
	}
}

func TestRedistribute_InvariantsAcrossTotals(t *testing.T) {
	defaults := []int{10, 15, 5, 15, 10, 10, 15, 10, 5, 10, 8, 7}
	for total := 60; total <= 240; total += schedule.Granule {
		result, err := schedule.Redistribute(defaults, total)
		if err != nil {
			t.Fatalf("Redistribute(%d) failed: %v", total, err)
		}
		checkInvariants(t, result, total)
	}
}

func TestRedistribute_RejectsBadTotals(t *testing.T) {
	defaults := []int{10, 10}

	if _, err := schedule.Redistribute(defaults, 23); err == nil {
		t.Error("expected error for total not a multiple of the granule")
	}
	if _, err := schedule.Redistribute(defaults, 5); err == nil {
		t.Error("expected error for total below the per-phase minimum")
	}

	_, err := schedule.Redistribute(defaults, 23)
	var appErr *errors.Error
	if !stderrors.As(err, &appErr) || appErr.Kind != errors.ErrValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRedistribute_RejectsEmptyAndNonPositive(t *testing.T) {
	if _, err := schedule.Redistribute(nil, 60); err == nil {
		t.Error("expected error for empty phase list")
	}
	if _, err := schedule.Redistribute([]int{10, 0}, 60); err == nil {
		t.Error("expected error for zero default duration")
	}
}
