package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusKm = 6371.0
	KmToNM        = 0.539957 // Conversion factor from kilometres to nautical miles

	T0           = 288.15 // Standard Sea Level Temperature (K)
	L            = 0.0065 // Temperature Lapse Rate (K/m) in Troposphere
	ZeroCelsius  = 273.15 // 0°C in Kelvin
	StdAltimInHg = 29.92  // Standard altimeter setting

	TropopauseAltFt   = 36089.2 // ~36,089 ft
	StratosphereTempK = 216.65  // Constant temperature in Stratosphere
)

// HaversineNM returns the great-circle distance between two points in nautical miles
func HaversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c * KmToNM
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// AngleDiff returns the absolute difference between two headings wrapped to [0, 180]
func AngleDiff(a, b float64) float64 {
	diff := math.Mod(math.Abs(a-b), 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// Crosswind returns the crosswind component in whole knots.
// Halves round to even so results match the published calculator.
func Crosswind(runwayHeading, windDir, windSpeed float64) int {
	if windSpeed == 0 {
		return 0
	}
	diff := AngleDiff(runwayHeading, windDir)
	return int(math.RoundToEven(windSpeed * math.Sin(toRad(diff))))
}

// Headwind returns the signed headwind component in knots (negative is tailwind)
func Headwind(runwayHeading, windDir, windSpeed float64) float64 {
	diff := AngleDiff(runwayHeading, windDir)
	return windSpeed * math.Cos(toRad(diff))
}

// NormalizeHeading maps any heading into [0, 360)
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// PressureAltitude returns pressure altitude in feet from field elevation and altimeter setting
func PressureAltitude(elevationFt, altimInHg float64) float64 {
	return elevationFt + (StdAltimInHg-altimInHg)*1000
}

// CalculateDensityAltitude returns density altitude in feet
func CalculateDensityAltitude(pressureAltFt float64, tempCelsius float64) float64 {
	// ISA Temp at pressure altitude
	isaTempK := T0 - (L * (pressureAltFt * 0.3048))
	if pressureAltFt > TropopauseAltFt {
		isaTempK = StratosphereTempK
	}
	isaTempC := isaTempK - ZeroCelsius

	// DA = PA + 120 * (OAT - ISA_Temp)
	return pressureAltFt + 120*(tempCelsius-isaTempC)
}

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := altFt * 0.3048

	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Outside the model's validity window, treat as no variation
		return 0.0
	}

	return mag.D()
}

// TrueToMagnetic converts a true heading to magnetic using an east-positive declination
func TrueToMagnetic(trueHeading, declination float64) float64 {
	return NormalizeHeading(trueHeading - declination)
}
