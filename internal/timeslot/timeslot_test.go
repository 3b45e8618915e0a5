package timeslot

import "testing"

func TestSlotOf(t *testing.T) {
	cases := []struct {
		month, day, year, want int
	}{
		{1, 1, 2024, 1},
		{1, 7, 2024, 1},
		{1, 8, 2024, 2},
		{1, 22, 2024, 4},
		{2, 1, 2024, 5},
		{12, 31, 2024, 48},
	}
	for _, c := range cases {
		got, err := SlotOf(c.month, c.day, c.year)
		if err != nil {
			t.Fatalf("SlotOf(%d,%d,%d) error: %v", c.month, c.day, c.year, err)
		}
		if got != c.want {
			t.Errorf("SlotOf(%d,%d,%d) = %d, want %d", c.month, c.day, c.year, got, c.want)
		}
	}
}

func TestSlotBoundsLeapYear(t *testing.T) {
	start, end, err := SlotBounds(2, 4, 2024)
	if err != nil {
		t.Fatal(err)
	}
	if start != 22 || end != 29 {
		t.Errorf("leap year Feb Q4 = (%d,%d), want (22,29)", start, end)
	}

	start, end, err = SlotBounds(2, 4, 2023)
	if err != nil {
		t.Fatal(err)
	}
	if start != 22 || end != 28 {
		t.Errorf("non-leap year Feb Q4 = (%d,%d), want (22,28)", start, end)
	}
}

func TestSlotBoundsOtherQuartiles(t *testing.T) {
	start, end, _ := SlotBounds(1, 1, 2024)
	if start != 1 || end != 7 {
		t.Errorf("Q1 = (%d,%d), want (1,7)", start, end)
	}
	start, end, _ = SlotBounds(4, 4, 2024)
	if start != 22 || end != 30 {
		t.Errorf("April Q4 = (%d,%d), want (22,30)", start, end)
	}
}

func TestSplitSlotRoundTrip(t *testing.T) {
	for slot := 1; slot <= MaxSlot; slot++ {
		month, q, err := SplitSlot(slot)
		if err != nil {
			t.Fatalf("SplitSlot(%d) error: %v", slot, err)
		}
		got := (month-1)*4 + q
		if got != slot {
			t.Errorf("SplitSlot(%d) -> (%d,%d) -> %d", slot, month, q, got)
		}
	}
}

func TestIsValidSlot(t *testing.T) {
	if !IsValidSlot(0) || !IsValidSlot(48) {
		t.Error("boundary slots should be valid")
	}
	if IsValidSlot(-1) || IsValidSlot(49) {
		t.Error("out-of-range slots should be invalid")
	}
}

func TestSlotOfInvalidMonth(t *testing.T) {
	if _, err := SlotOf(13, 1, 2024); err == nil {
		t.Error("expected error for month 13")
	}
}
