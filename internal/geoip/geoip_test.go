package geoip

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDB(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ip2country.db")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolver_Lookup(t *testing.T) {
	path := writeDB(t, `# test ranges
10.0.0.0,10.0.0.255,DE
10.0.2.0,10.0.2.255,FR
2001:db8::,2001:db8::ffff,NL
`)
	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	tests := []struct {
		name string
		addr string
		want string
	}{
		{name: "range start", addr: "10.0.0.0", want: "DE"},
		{name: "range middle", addr: "10.0.0.128", want: "DE"},
		{name: "range end", addr: "10.0.2.255", want: "FR"},
		{name: "gap between ranges", addr: "10.0.1.1", want: Unknown},
		{name: "below all ranges", addr: "9.255.255.255", want: Unknown},
		{name: "above all ranges", addr: "11.0.0.0", want: Unknown},
		{name: "ipv6 range", addr: "2001:db8::1234", want: "NL"},
		{name: "garbage address", addr: "not-an-ip", want: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Lookup(tt.addr))
		})
	}
}

func TestResolver_MissingFile(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope.db"))
	require.NoError(t, err)

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, Unknown, r.Lookup("10.0.0.1"))
}

func TestResolver_MalformedLine(t *testing.T) {
	path := writeDB(t, "10.0.0.0,10.0.0.255\n")

	_, err := Load(path)
	assert.Error(t, err)
}
