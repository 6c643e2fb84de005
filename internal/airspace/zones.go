// Package airspace grades a coordinate against fixed restricted-zone definitions.
package airspace

import (
	"fmt"

	"github.com/wxdecoder/wxdecoder/internal/physics"
)

// ZoneType is the restriction class of a zone
type ZoneType string

const (
	Restricted ZoneType = "RESTRICTED"
	Prohibited ZoneType = "PROHIBITED"
)

// Severity grades a warning
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityAdvisory Severity = "ADVISORY"
)

// ProximityBufferNM is the band outside a zone boundary that still produces an advisory
const ProximityBufferNM = 5.0

// Zone is a circular restricted area
type Zone struct {
	ID       string
	Name     string
	Lat      float64
	Lon      float64
	RadiusNM float64
	Type     ZoneType
}

// Warning is one graded finding for a target
type Warning struct {
	ZoneID     string   `json:"zone_id"`
	Severity   Severity `json:"severity"`
	DistanceNM float64  `json:"distance_nm"`
	Message    string   `json:"message"`
}

// DefaultZones are centred on the DCA VOR
var DefaultZones = []Zone{
	{ID: "DC_SFRA", Name: "Washington DC SFRA", Lat: 38.8512, Lon: -77.0377, RadiusNM: 30, Type: Restricted},
	{ID: "DC_FRZ", Name: "Washington DC Flight Restricted Zone (FRZ)", Lat: 38.8512, Lon: -77.0377, RadiusNM: 13, Type: Prohibited},
}

// Checker evaluates targets against a zone table
type Checker struct {
	zones []Zone
}

// NewChecker creates a checker. A nil table uses DefaultZones.
func NewChecker(zones []Zone) *Checker {
	if zones == nil {
		zones = DefaultZones
	}
	return &Checker{zones: zones}
}

// Check returns warnings for code at lat/lon in zone table order
func (c *Checker) Check(code string, lat, lon float64) []Warning {
	var out []Warning
	for _, z := range c.zones {
		dist := physics.HaversineNM(lat, lon, z.Lat, z.Lon)
		switch {
		case dist <= z.RadiusNM && z.Type == Prohibited:
			out = append(out, Warning{
				ZoneID:     z.ID,
				Severity:   SeverityCritical,
				DistanceNM: dist,
				Message: fmt.Sprintf("CRITICAL: %s is located within the %s (%.1fnm from center). Flight strictly restricted; special procedures required.",
					code, z.Name, dist),
			})
		case dist <= z.RadiusNM:
			out = append(out, Warning{
				ZoneID:     z.ID,
				Severity:   SeverityWarning,
				DistanceNM: dist,
				Message:    fmt.Sprintf("WARNING: %s is located within the %s. Special procedures required.", code, z.Name),
			})
		case dist <= z.RadiusNM+ProximityBufferNM:
			out = append(out, Warning{
				ZoneID:     z.ID,
				Severity:   SeverityAdvisory,
				DistanceNM: dist,
				Message: fmt.Sprintf("ADVISORY: %s is just outside (%.1fnm from the center) of the %s. Exercise caution near boundary.",
					code, dist, z.Name),
			})
		}
	}
	return out
}

// Messages flattens warnings to their text
func Messages(ws []Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Message)
	}
	return out
}
