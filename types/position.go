package types

import "encoding/binary"

// Position is one sample from the position-fix collaborator.
type Position struct {
	Lat   float64
	Lon   float64
	Valid bool
}

// PositionPayloadLen is the uplink size produced by EncodePosition.
const PositionPayloadLen = 9

const (
	FlagStationary = 1 << 0
	FlagForced     = 1 << 1
)

// EncodePosition packs lat/lon as big-endian int32 in 1e-7 degree units plus a flags byte.
func EncodePosition(dst []byte, p Position, flags uint8) []byte {
	if cap(dst) < PositionPayloadLen {
		dst = make([]byte, PositionPayloadLen)
	}
	dst = dst[:PositionPayloadLen]
	binary.BigEndian.PutUint32(dst[0:4], uint32(int32(p.Lat*1e7)))
	binary.BigEndian.PutUint32(dst[4:8], uint32(int32(p.Lon*1e7)))
	dst[8] = flags
	return dst
}

// DecodePosition is the inverse of EncodePosition.
func DecodePosition(b []byte) (Position, uint8, bool) {
	if len(b) < PositionPayloadLen {
		return Position{}, 0, false
	}
	lat := int32(binary.BigEndian.Uint32(b[0:4]))
	lon := int32(binary.BigEndian.Uint32(b[4:8]))
	return Position{Lat: float64(lat) / 1e7, Lon: float64(lon) / 1e7, Valid: true}, b[8], true
}
