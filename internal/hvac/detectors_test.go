package hvac

import "testing"

// ramp builds a 48 h forecast at base temperature with a dip or spike of
// delta centered at hour peak.
func ramp(base, delta float64, peak int) []float64 {
	out := make([]float64, 48)
	for i := range out {
		out[i] = base
	}
	out[peak] = base + delta
	return out
}

func TestDetectColdSnap(t *testing.T) {
	tests := []struct {
		name       string
		temps      []float64
		wantNil    bool
		hoursUntil int
	}{
		{"forecast too short", ramp(5, -8, 20)[:23], true, 0},
		{"drop too small", ramp(5, -4, 20), true, 0},
		{"too close", ramp(5, -8, 10), true, 0},
		{"too far out", ramp(5, -8, 40), true, 0},
		{"window start is exclusive", ramp(5, -8, 12), true, 0},
		{"window end is inclusive", ramp(5, -8, 36), false, 36},
		{"qualifying drop", ramp(5, -8, 20), false, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectColdSnap(tt.temps)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("DetectColdSnap() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("DetectColdSnap() = nil, want detection")
			}
			if got.HoursUntil != tt.hoursUntil {
				t.Errorf("HoursUntil = %d, want %d", got.HoursUntil, tt.hoursUntil)
			}
			if got.TempDrop < coldSnapMinDrop {
				t.Errorf("TempDrop = %v, below threshold", got.TempDrop)
			}
		})
	}
}

func TestDetectHeatwave(t *testing.T) {
	tests := []struct {
		name       string
		temps      []float64
		wantNil    bool
		hoursUntil int
		peak       float64
	}{
		{"forecast too short", ramp(25, 10, 20)[:23], true, 0, 0},
		{"peak too mild", ramp(25, 4, 20), true, 0, 0},
		{"too close", ramp(25, 10, 8), true, 0, 0},
		{"too far out", ramp(25, 10, 40), true, 0, 0},
		{"qualifying heatwave", ramp(25, 10, 24), false, 24, 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectHeatwave(tt.temps)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("DetectHeatwave() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("DetectHeatwave() = nil, want detection")
			}
			if got.HoursUntil != tt.hoursUntil {
				t.Errorf("HoursUntil = %d, want %d", got.HoursUntil, tt.hoursUntil)
			}
			if got.PeakTemp != tt.peak {
				t.Errorf("PeakTemp = %v, want %v", got.PeakTemp, tt.peak)
			}
		})
	}
}
