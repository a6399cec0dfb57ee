// Package enrich resolves client addresses to session geography.
package enrich

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Geo holds ISO country and subdivision codes plus a display city name.
type Geo struct {
	Country string
	Region  string
	City    string
}

type GeoIP struct {
	city  *geoip2.Reader
	langs []string
}

// NewGeoIP opens a GeoIP2/GeoLite2 City database. An empty path disables lookups
// and returns a nil *GeoIP, which is safe to use.
func NewGeoIP(cityPath string, langs ...string) (*GeoIP, error) {
	cityPath = strings.TrimSpace(cityPath)
	if cityPath == "" {
		return nil, nil
	}
	r, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, err
	}
	if len(langs) == 0 {
		langs = []string{"es", "en"}
	}
	return &GeoIP{city: r, langs: langs}, nil
}

func (g *GeoIP) Close() error {
	if g == nil || g.city == nil {
		return nil
	}
	return g.city.Close()
}

func (g *GeoIP) Lookup(ipStr string) (Geo, bool) {
	if g == nil || g.city == nil {
		return Geo{}, false
	}
	ip, ok := routable(ipStr)
	if !ok {
		return Geo{}, false
	}
	rec, err := g.city.City(ip)
	if err != nil {
		return Geo{}, false
	}

	out := Geo{Country: rec.Country.IsoCode}
	if len(rec.Subdivisions) > 0 {
		out.Region = rec.Subdivisions[0].IsoCode
	}
	out.City = pickName(rec.City.Names, g.langs)
	return out, out.Country != "" || out.Region != "" || out.City != ""
}

// routable rejects unparseable, private, loopback and link-local addresses; the
// databases carry nothing for them.
func routable(s string) (net.IP, bool) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil, false
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
		return nil, false
	}
	return ip, true
}

func pickName(names map[string]string, langs []string) string {
	for _, l := range langs {
		if n := strings.TrimSpace(names[l]); n != "" {
			return n
		}
	}
	return ""
}
