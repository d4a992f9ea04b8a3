package domain

import "math"

// LengthUnit selects how yarn lengths are displayed. Amounts are stored in
// meters and converted at the edge.
type LengthUnit string

const (
	UnitMeter LengthUnit = "meter"
	UnitYard  LengthUnit = "yard"
)

const metersToYards = 1.09361

// ConvertLength converts a stored length in meters to the display unit.
func ConvertLength(meters int, to LengthUnit) float64 {
	if to == UnitYard {
		return float64(meters) * metersToYards
	}
	return float64(meters)
}

// MetersFrom converts a user-entered length back to whole meters.
func MetersFrom(value float64, from LengthUnit) int {
	if from == UnitYard {
		return int(math.Round(value / metersToYards))
	}
	return int(math.Round(value))
}
