package airports

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

const airportsCSV = `"id","ident","type","name","latitude_deg","longitude_deg","elevation_ft","continent","iso_country","iso_region","municipality","scheduled_service","icao_code","iata_code","gps_code","local_code"
3384,"KBWI","large_airport","Baltimore/Washington International Thurgood Marshall Airport",39.1754,-76.668297,143,"NA","US","US-MD","Baltimore","yes","KBWI","BWI","KBWI","BWI"
20829,"W29","small_airport","Bay Bridge Airport",38.976799,-76.330002,15,"NA","US","US-MD","Stevensville","no","","","KW29","W29"
1,"2W5","small_airport","Maryland Airport",38.600399,-77.073003,170,"NA","US","US-MD","Indian Head","no","","","","2W5"
2,"00X","closed","Old Field",30,-80,10,"NA","US","US-FL","","no","","","","00X"
3,"BAD","small_airport","Broken Row",abc,-80,10,"NA","US","US-FL","","no","","","",""
`

const runwaysCSV = `"id","airport_ref","airport_ident","length_ft","width_ft","surface","lighted","closed","le_ident","le_latitude_deg","le_longitude_deg","le_elevation_ft","le_heading_degT","le_displaced_threshold_ft","he_ident","he_heading_degT"
1,3384,"KBWI",10502,150,"ASP",1,0,"15R",,,,"158.1",,"33L","338.1"
2,3384,"KBWI",9501,150,"ASP",1,0,"10",,,,"100.0",,"28","280.0"
3,3384,"KBWI",3000,100,"ASP",1,1,"04",,,,"40",,"22","220"
4,20829,"W29",2800,60,"ASP",1,0,"11",,,,"",,"29",""
5,1,"2W5",1000,100,"TURF",0,0,"H1",,,,"45",,"",""
`

func TestParseAirports(t *testing.T) {
	recs, err := ParseAirports(strings.NewReader(airportsCSV))
	require.NoError(t, err)
	require.Len(t, recs, 3, "closed and unparseable rows are skipped")

	assert.Equal(t, "KBWI", recs[0].ICAO)
	assert.Equal(t, "BWI", recs[0].LID)
	assert.Equal(t, 143.0, recs[0].ElevationFt)

	// gps_code supplies the ICAO when icao_code is empty
	assert.Equal(t, "KW29", recs[1].ICAO)
	assert.Equal(t, "W29", recs[1].ident)

	assert.Empty(t, recs[2].ICAO)
	assert.Equal(t, "2W5", recs[2].LID)
}

func TestParseAirportsMissingColumn(t *testing.T) {
	_, err := ParseAirports(strings.NewReader("ident,name\nKBWI,x\n"))
	assert.Error(t, err)
}

func TestParseRunways(t *testing.T) {
	rws, err := ParseRunways(strings.NewReader(runwaysCSV))
	require.NoError(t, err)

	assert.Equal(t, []physics.Runway{
		{Label: "15R", Heading: 150},
		{Label: "33L", Heading: 330},
		{Label: "10", Heading: 100},
		{Label: "28", Heading: 280},
	}, rws["KBWI"], "closed runway skipped, headings from designators")
	assert.Len(t, rws["W29"], 2)
	assert.Equal(t, []physics.Runway{{Label: "H1", Heading: 45}}, rws["2W5"])
}

func TestRunwayEnd(t *testing.T) {
	rw, ok := runwayEnd("36", "")
	require.True(t, ok)
	assert.Equal(t, 360.0, rw.Heading)

	rw, ok = runwayEnd("N", "365")
	require.True(t, ok)
	assert.Equal(t, 5.0, rw.Heading)

	_, ok = runwayEnd("H1", "")
	assert.False(t, ok)
	_, ok = runwayEnd("", "90")
	assert.False(t, ok)
}

func TestLoadJoinsRunways(t *testing.T) {
	dir := t.TempDir()
	ap := filepath.Join(dir, "airports.csv")
	rw := filepath.Join(dir, "runways.csv")
	require.NoError(t, os.WriteFile(ap, []byte(airportsCSV), 0o644))
	require.NoError(t, os.WriteFile(rw, []byte(runwaysCSV), 0o644))

	d, err := Load(ap, rw, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	a, ok := d.LookupICAO("KBWI")
	require.True(t, ok)
	assert.Len(t, a.Runways, 4)

	a, ok = d.LookupLID("W29")
	require.True(t, ok)
	assert.Equal(t, "KW29", a.ICAO)
	assert.Len(t, a.Runways, 2)

	_, err = Load(filepath.Join(dir, "missing.csv"), "", logger.NewNop())
	assert.Error(t, err)
}

func TestIsICAOShaped(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"KBWI", true},
		{"KW29", true},
		{"K2W5", true},
		{"00MD", false},
		{"W29", false},
		{"KBWIX", false},
		{"kbwi", false},
		{"K-29", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, isICAOShaped(tt.code))
		})
	}
}

func TestNormalizeLIDWithDigitsFromCSV(t *testing.T) {
	recs, err := ParseAirports(strings.NewReader(airportsCSV))
	require.NoError(t, err)
	airports := make([]*Airport, 0, len(recs))
	for _, r := range recs {
		airports = append(airports, r.Airport)
	}
	d := NewDirectory(airports, logger.NewNop())

	_, ok := d.LookupICAO("KW29")
	require.True(t, ok, "gps_code with digits is indexed as ICAO")

	res, err := d.Normalize(context.Background(), "w29")
	require.NoError(t, err)
	assert.Equal(t, "KW29", res.Code)
	assert.False(t, res.Remote)
}
