package domain

import (
	"math"
	"testing"
)

func TestConvertLength(t *testing.T) {
	if got := ConvertLength(100, UnitMeter); got != 100 {
		t.Fatalf("meters should pass through, got %f", got)
	}
	got := ConvertLength(100, UnitYard)
	if math.Abs(got-109.361) > 0.001 {
		t.Fatalf("expected ~109.361 yards, got %f", got)
	}
}

func TestMetersFromRoundTrips(t *testing.T) {
	if got := MetersFrom(100, UnitMeter); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	for _, meters := range []int{1, 50, 100, 1234} {
		yards := ConvertLength(meters, UnitYard)
		if back := MetersFrom(yards, UnitYard); back != meters {
			t.Fatalf("round trip %dm -> %fyd -> %dm", meters, yards, back)
		}
	}
}
