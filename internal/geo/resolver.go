package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Location is the subset of GeoIP data attached to touchpoints.
type Location struct {
	Country     string
	CountryCode string
	City        string
}

// Resolver looks up visitor locations in a MaxMind GeoLite2 database.
type Resolver struct {
	db *maxminddb.Reader
}

// NewResolver opens the MaxMind database at the given path.
func NewResolver(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database: %w", err)
	}
	return &Resolver{db: db}, nil
}

type geoRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// Lookup resolves an IP address to a location. Unparseable addresses and
// addresses not in the database return ok=false rather than an error.
func (r *Resolver) Lookup(ip string) (Location, bool) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{}, false
	}

	var rec geoRecord
	if err := r.db.Lookup(addr, &rec); err != nil {
		return Location{}, false
	}
	if rec.Country.ISOCode == "" {
		return Location{}, false
	}

	return Location{
		Country:     rec.Country.Names["en"],
		CountryCode: rec.Country.ISOCode,
		City:        rec.City.Names["en"],
	}, true
}

// Close releases the database file.
func (r *Resolver) Close() error {
	return r.db.Close()
}
