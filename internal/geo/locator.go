// Package geo resolves source IP addresses to coarse locations for event enrichment.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is the subset of GeoIP data attached to security events
type Location struct {
	CountryCode string
	City        string
	ASN         uint
	ASOrg       string
}

// Locator reads MaxMind City (and optionally ASN) databases
type Locator struct {
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
}

// Open loads the City database and, when asnDBPath is set, the ASN database
func Open(cityDBPath, asnDBPath string) (*Locator, error) {
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}

	l := &Locator{cityReader: cityReader}
	if asnDBPath != "" {
		asnReader, err := geoip2.Open(asnDBPath)
		if err != nil {
			cityReader.Close()
			return nil, fmt.Errorf("open asn database: %w", err)
		}
		l.asnReader = asnReader
	}
	return l, nil
}

func (l *Locator) Close() {
	if l.cityReader != nil {
		l.cityReader.Close()
	}
	if l.asnReader != nil {
		l.asnReader.Close()
	}
}

// Lookup resolves ipAddress. Private and unknown addresses return an error.
func (l *Locator) Lookup(ipAddress string) (*Location, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address: %q", ipAddress)
	}
	if ip.IsPrivate() || ip.IsLoopback() {
		return nil, fmt.Errorf("non-routable ip address: %s", ipAddress)
	}

	record, err := l.cityReader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("city lookup: %w", err)
	}

	loc := &Location{
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
	}

	if l.asnReader != nil {
		if asn, err := l.asnReader.ASN(ip); err == nil {
			loc.ASN = asn.AutonomousSystemNumber
			loc.ASOrg = asn.AutonomousSystemOrganization
		}
	}

	return loc, nil
}
