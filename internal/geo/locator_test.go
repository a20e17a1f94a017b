package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpen_MissingDatabase(t *testing.T) {
	_, err := Open("/nonexistent/GeoLite2-City.mmdb", "")
	assert.Error(t, err)
}

func TestLookup_RejectsBeforeReading(t *testing.T) {
	// Invalid and private addresses fail before the reader is touched
	l := &Locator{}

	_, err := l.Lookup("not-an-ip")
	assert.Error(t, err)

	_, err = l.Lookup("10.1.2.3")
	assert.Error(t, err)

	_, err = l.Lookup("127.0.0.1")
	assert.Error(t, err)
}
