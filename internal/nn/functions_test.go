package nn

import "testing"

func TestSat(t *testing.T) {
	cases := []struct {
		value, want float64
	}{
		{value: -3, want: -1},
		{value: 0.25, want: 0.25},
		{value: 7, want: 1},
	}
	for _, tc := range cases {
		if got := Sat(tc.value, 1, -1); got != tc.want {
			t.Fatalf("Sat(%v): got=%v want=%v", tc.value, got, tc.want)
		}
	}
}

func TestScaleUnit(t *testing.T) {
	if got := ScaleUnit(2250, 4500); got != 0.5 {
		t.Fatalf("unexpected scaled value: %v", got)
	}
	if got := ScaleUnit(5000, 4500); got != 1 {
		t.Fatalf("expected saturation at 1, got=%v", got)
	}
	if got := ScaleUnit(-10, 4500); got != 0 {
		t.Fatalf("expected saturation at 0, got=%v", got)
	}
	if got := ScaleUnit(10, 0); got != 0 {
		t.Fatalf("expected zero for non-positive max, got=%v", got)
	}
}
