package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGeoIP_EmptyPathDisables(t *testing.T) {
	g, err := NewGeoIP("  ")
	require.NoError(t, err)
	require.Nil(t, g)

	_, ok := g.Lookup("81.2.69.142")
	require.False(t, ok)
	require.NoError(t, g.Close())
}

func TestNewGeoIP_MissingFile(t *testing.T) {
	_, err := NewGeoIP(t.TempDir() + "/nope.mmdb")
	require.Error(t, err)
}

func TestRoutable(t *testing.T) {
	for _, ip := range []string{"", "nope", "10.1.2.3", "192.168.0.7", "127.0.0.1", "::1", "fe80::1", "0.0.0.0"} {
		_, ok := routable(ip)
		require.False(t, ok, ip)
	}
	for _, ip := range []string{"81.2.69.142", " 2a02:9000::1 "} {
		_, ok := routable(ip)
		require.True(t, ok, ip)
	}
}

func TestPickName(t *testing.T) {
	names := map[string]string{"en": "Seville", "es": "Sevilla"}
	require.Equal(t, "Sevilla", pickName(names, []string{"es", "en"}))
	require.Equal(t, "Seville", pickName(names, []string{"fr", "en"}))
	require.Empty(t, pickName(nil, []string{"es"}))
}
