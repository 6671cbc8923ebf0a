package mathx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(9, 0, 5))
	assert.Equal(t, 0, Clamp(-1, 5, 0)) // swapped bounds
	assert.Equal(t, time.Minute, Clamp(time.Second, time.Minute, time.Hour))
}

func TestHaversine(t *testing.T) {
	assert.Zero(t, Haversine(10, 10, 10, 10))

	// One degree of latitude is ~111.2 km.
	assert.InDelta(t, 111195, Haversine(0, 0, 1, 0), 50)

	// ~200 m north.
	d := Haversine(52.0, 4.0, 52.0018, 4.0)
	assert.InDelta(t, 200, d, 1)
}
