package validation

import (
	"testing"
	"time"
)

func TestValidPrice(t *testing.T) {
	for _, bad := range []float64{0, -0.01, -125} {
		if ValidPrice(bad) {
			t.Errorf("price %v should be invalid", bad)
		}
	}
	for _, good := range []float64{0.01, 1, 125.50} {
		if !ValidPrice(good) {
			t.Errorf("price %v should be valid", good)
		}
	}
}

func TestValidPickupTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{time.Hour, true},
		{5 * time.Second, true},
		{-10 * time.Second, true}, // inside the grace window
		{-PickupGrace - time.Second, false},
		{-2 * time.Minute, false},
	}
	for _, tt := range tests {
		if got := ValidPickupTime(now.Add(tt.offset), now); got != tt.want {
			t.Errorf("pickup at now%+v: got %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestValidCoordinates(t *testing.T) {
	if !ValidCoordinates(51.5, -0.12) {
		t.Error("London should be on the globe")
	}
	for _, bad := range [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}} {
		if ValidCoordinates(bad[0], bad[1]) {
			t.Errorf("(%v,%v) should be invalid", bad[0], bad[1])
		}
	}
}
