package airports

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Load reads an OurAirports airports.csv and optional runways.csv into a Directory
func Load(airportsPath, runwaysPath string, log *logger.Logger) (*Directory, error) {
	f, err := os.Open(airportsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open airports database: %w", err)
	}
	defer f.Close()

	records, err := ParseAirports(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", airportsPath, err)
	}

	runwayCount := 0
	if runwaysPath != "" {
		rf, err := os.Open(runwaysPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open runways database: %w", err)
		}
		defer rf.Close()

		runways, err := ParseRunways(rf)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", runwaysPath, err)
		}
		for _, a := range records {
			if rws, ok := runways[a.ident]; ok {
				a.Runways = rws
				runwayCount += len(rws)
			}
		}
	}

	airports := make([]*Airport, 0, len(records))
	for _, r := range records {
		airports = append(airports, r.Airport)
	}
	dir := NewDirectory(airports, log)

	log.Named("airports").Info("Loaded airport directory",
		logger.Int("icao_airports", dir.Len()),
		logger.Int("lid_airports", len(dir.byLID)),
		logger.Int("runway_ends", runwayCount))
	return dir, nil
}

// parsedAirport keeps the OurAirports ident for joining runways
type parsedAirport struct {
	*Airport
	ident string
}

// header maps column names to positions so column order changes don't break parsing
type header map[string]int

func (h header) get(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func readHeader(reader *csv.Reader, required ...string) (header, error) {
	row, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := make(header, len(row))
	for i, name := range row {
		h[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := h[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return h, nil
}

// ParseAirports parses airports.csv rows. Closed airports are skipped.
func ParseAirports(r io.Reader) ([]*parsedAirport, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	h, err := readHeader(reader, "ident", "type", "name", "latitude_deg", "longitude_deg")
	if err != nil {
		return nil, err
	}

	var out []*parsedAirport
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		kind := h.get(record, "type")
		if kind == TypeClosed {
			continue
		}

		lat, err := strconv.ParseFloat(h.get(record, "latitude_deg"), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(h.get(record, "longitude_deg"), 64)
		if err != nil {
			continue
		}
		elev, _ := strconv.ParseFloat(h.get(record, "elevation_ft"), 64)

		ident := strings.ToUpper(h.get(record, "ident"))
		a := &Airport{
			ICAO:        icaoFor(ident, strings.ToUpper(h.get(record, "icao_code")), strings.ToUpper(h.get(record, "gps_code"))),
			LID:         strings.ToUpper(h.get(record, "local_code")),
			IATA:        strings.ToUpper(h.get(record, "iata_code")),
			Name:        h.get(record, "name"),
			Lat:         lat,
			Lon:         lon,
			ElevationFt: elev,
			Timezone:    h.get(record, "tz"),
			Type:        kind,
		}
		if a.ICAO == "" && a.LID == "" {
			continue
		}
		out = append(out, &parsedAirport{Airport: a, ident: ident})
	}
	return out, nil
}

// icaoFor picks the ICAO code from the explicit column, then an ICAO-shaped gps_code, then an ICAO-shaped ident
func icaoFor(ident, icao, gps string) string {
	if icao != "" {
		return icao
	}
	if isICAOShaped(gps) {
		return gps
	}
	if isICAOShaped(ident) {
		return ident
	}
	return ""
}

// isICAOShaped accepts four upper-case letters or digits with a leading letter (KBWI, KW29)
func isICAOShaped(s string) bool {
	if len(s) != 4 || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, c := range s[1:] {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// ParseRunways parses runways.csv into runway ends keyed by airport ident.
// Closed runways are skipped.
func ParseRunways(r io.Reader) (map[string][]physics.Runway, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	h, err := readHeader(reader, "airport_ident", "le_ident", "he_ident")
	if err != nil {
		return nil, err
	}

	out := make(map[string][]physics.Runway)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if h.get(record, "closed") == "1" {
			continue
		}

		ident := strings.ToUpper(h.get(record, "airport_ident"))
		for _, end := range []struct{ label, heading string }{
			{h.get(record, "le_ident"), h.get(record, "le_heading_degT")},
			{h.get(record, "he_ident"), h.get(record, "he_heading_degT")},
		} {
			if rw, ok := runwayEnd(end.label, end.heading); ok {
				out[ident] = append(out[ident], rw)
			}
		}
	}
	return out, nil
}

// runwayEnd derives the magnetic heading from the runway designator (33L is 330).
// Designators without a number fall back to the published true heading.
func runwayEnd(label, trueHeading string) (physics.Runway, bool) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return physics.Runway{}, false
	}

	digits := strings.TrimRight(label, "LRCWG")
	if n, err := strconv.Atoi(digits); err == nil && n >= 1 && n <= 36 {
		return physics.Runway{Label: label, Heading: float64(n * 10)}, true
	}

	if hdg, err := strconv.ParseFloat(trueHeading, 64); err == nil {
		return physics.Runway{Label: label, Heading: physics.NormalizeHeading(hdg)}, true
	}
	return physics.Runway{}, false
}
