package airports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// ErrNotFound is returned when a code resolves neither locally nor remotely
var ErrNotFound = errors.New("airport not found")

// DomesticPrefix is prepended to bare 3-character US identifiers
const DomesticPrefix = "K"

// Airport classification values as published by OurAirports
const (
	TypeLarge   = "large_airport"
	TypeMedium  = "medium_airport"
	TypeSmall   = "small_airport"
	TypeClosed  = "closed"
	TypeUnknown = "unknown"
)

// Airport is an immutable directory record
type Airport struct {
	ICAO        string           `json:"icao,omitempty"`
	LID         string           `json:"lid,omitempty"`
	IATA        string           `json:"iata,omitempty"`
	Name        string           `json:"name"`
	Lat         float64          `json:"lat"`
	Lon         float64          `json:"lon"`
	ElevationFt float64          `json:"elevation_ft"`
	Timezone    string           `json:"timezone,omitempty"`
	Type        string           `json:"type"`
	Runways     []physics.Runway `json:"runways,omitempty"`
}

// Code returns the preferred identifier
func (a *Airport) Code() string {
	if a.ICAO != "" {
		return a.ICAO
	}
	return a.LID
}

// IsPrimary reports whether the airport is large or medium and likely to report weather
func (a *Airport) IsPrimary() bool {
	return a.Type == TypeLarge || a.Type == TypeMedium
}

// CoordinateLookup resolves a code the directory does not know
type CoordinateLookup interface {
	LookupCoordinates(ctx context.Context, code string) (lat, lon float64, name string, err error)
}

// Resolution is the outcome of normalizing user input
type Resolution struct {
	Input     string   // upper-cased, trimmed raw input
	Code      string   // canonical code used for cache keys and fetches
	Airport   *Airport // directory record, or a transient record for remote hits
	Remote    bool     // resolved through the remote lookup
	KPrefixed bool     // resolved by the domestic prefix heuristic
}

// DisplayCode is the code written to the logs "resolved" column. Prefixed
// identifiers that contain a digit are shown in their original form.
func (r Resolution) DisplayCode() string {
	if r.KPrefixed && strings.ContainsAny(r.Input, "0123456789") {
		return r.Input
	}
	return r.Code
}

type remoteResult struct {
	airport *Airport
	err     error
}

// Directory is the in-memory airport database
type Directory struct {
	byICAO  map[string]*Airport
	byLID   map[string]*Airport
	ordered []*Airport // ICAO airports sorted by code
	remote  CoordinateLookup
	// Remote lookups are cached, misses included, so a bad code cannot hammer the upstream
	remoteCache *expirable.LRU[string, remoteResult]
	logger      *logger.Logger
}

// NewDirectory builds a directory from records
func NewDirectory(records []*Airport, log *logger.Logger) *Directory {
	d := &Directory{
		byICAO:      make(map[string]*Airport, len(records)),
		byLID:       make(map[string]*Airport),
		remoteCache: expirable.NewLRU[string, remoteResult](1024, nil, 10*time.Minute),
		logger:      log.Named("airports"),
	}
	for _, a := range records {
		if a.ICAO != "" {
			d.byICAO[a.ICAO] = a
		}
		if a.LID != "" {
			// First record wins, duplicates are rare and usually closed fields
			if _, exists := d.byLID[a.LID]; !exists {
				d.byLID[a.LID] = a
			}
		}
	}
	d.ordered = make([]*Airport, 0, len(d.byICAO))
	for _, a := range d.byICAO {
		d.ordered = append(d.ordered, a)
	}
	sort.Slice(d.ordered, func(i, j int) bool { return d.ordered[i].ICAO < d.ordered[j].ICAO })
	return d
}

// SetRemoteLookup configures the fallback for unknown codes
func (d *Directory) SetRemoteLookup(remote CoordinateLookup) {
	d.remote = remote
}

// Len returns the number of ICAO airports
func (d *Directory) Len() int {
	return len(d.byICAO)
}

// ICAOAirports returns airports with an ICAO code in code order. The slice must not be modified.
func (d *Directory) ICAOAirports() []*Airport {
	return d.ordered
}

// LookupICAO finds an airport by exact ICAO code
func (d *Directory) LookupICAO(code string) (*Airport, bool) {
	a, ok := d.byICAO[code]
	return a, ok
}

// LookupLID finds an airport by exact local identifier
func (d *Directory) LookupLID(code string) (*Airport, bool) {
	a, ok := d.byLID[code]
	return a, ok
}

// Lookup finds an airport by ICAO, then by local identifier
func (d *Directory) Lookup(code string) (*Airport, bool) {
	if a, ok := d.byICAO[code]; ok {
		return a, true
	}
	return d.LookupLID(code)
}

// Normalize resolves raw input to a canonical airport code:
// exact ICAO, then exact LID, then the K-prefix heuristic, then the remote lookup.
func (d *Directory) Normalize(ctx context.Context, raw string) (Resolution, error) {
	input := strings.ToUpper(strings.TrimSpace(raw))
	res := Resolution{Input: input, Code: input}
	if input == "" {
		return res, fmt.Errorf("%w: empty identifier", ErrNotFound)
	}

	if a, ok := d.byICAO[input]; ok {
		res.Airport = a
		return res, nil
	}

	if a, ok := d.byLID[input]; ok {
		res.Airport = a
		if a.ICAO != "" {
			res.Code = a.ICAO
		}
		return res, nil
	}

	if len(input) == 3 {
		if a, ok := d.byICAO[DomesticPrefix+input]; ok {
			res.Code = a.ICAO
			res.Airport = a
			res.KPrefixed = true
			return res, nil
		}
	}

	a, err := d.lookupRemote(ctx, input)
	if err != nil {
		return res, err
	}
	res.Airport = a
	res.Remote = true
	return res, nil
}

// Locate returns coordinates for a code from the directory or the remote lookup
func (d *Directory) Locate(ctx context.Context, code string) (*Airport, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if a, ok := d.Lookup(code); ok {
		return a, nil
	}
	return d.lookupRemote(ctx, code)
}

func (d *Directory) lookupRemote(ctx context.Context, code string) (*Airport, error) {
	if d.remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if cached, ok := d.remoteCache.Get(code); ok {
		return cached.airport, cached.err
	}

	lat, lon, name, err := d.remote.LookupCoordinates(ctx, code)
	if err != nil {
		d.logger.Info("Remote coordinate lookup failed",
			logger.String("code", code),
			logger.Error(err))
		notFound := fmt.Errorf("%w: %s", ErrNotFound, code)
		// Context errors are transient and should not be remembered
		if ctx.Err() == nil {
			d.remoteCache.Add(code, remoteResult{err: notFound})
		}
		return nil, notFound
	}

	if name == "" {
		name = code
	}
	a := &Airport{ICAO: code, Name: name, Lat: lat, Lon: lon, Type: TypeUnknown}
	d.remoteCache.Add(code, remoteResult{airport: a})
	d.logger.Debug("Resolved airport remotely",
		logger.String("code", code),
		logger.Float64("lat", lat),
		logger.Float64("lon", lon))
	return a, nil
}
