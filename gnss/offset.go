package gnss

import (
	"math"

	"tracker-go/types"
	"tracker-go/x/mathx"
)

// Offset returns p displaced by the given metres, using a local flat-earth
// approximation that is accurate to well under a metre at tracker ranges.
func Offset(p types.Position, northM, eastM float64) types.Position {
	const deg = 180 / math.Pi
	p.Lat += northM / mathx.EarthRadiusM * deg
	p.Lon += eastM / (mathx.EarthRadiusM * math.Cos(p.Lat/deg)) * deg
	return p
}
