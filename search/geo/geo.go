// Package geo holds the point model shared by the index and the distance
// collectors: quantized coordinate encoding and great-circle distance.
package geo

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EarthMeanRadius is the mean earth radius in meters (WGS84).
const EarthMeanRadius = 6_371_008.7714

const (
	latitudeScale  = float64(1<<32) / 180.0
	longitudeScale = float64(1<<32) / 360.0
	latitudeDecode  = 180.0 / float64(1<<32)
	longitudeDecode = 360.0 / float64(1<<32)
)

// EncodedSize is the byte width of an encoded point.
const EncodedSize = 8

type Point struct {
	Lat float64
	Lon float64
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("invalid latitude %v", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("invalid longitude %v", p.Lon)
	}
	return nil
}

func (p Point) String() string {
	return fmt.Sprintf("%g,%g", p.Lat, p.Lon)
}

// EncodeLatitude quantizes a latitude to 32 bits.
func EncodeLatitude(lat float64) int32 {
	if lat == 90 {
		return math.MaxInt32
	}
	return int32(math.Floor(lat * latitudeScale))
}

// EncodeLongitude quantizes a longitude to 32 bits.
func EncodeLongitude(lon float64) int32 {
	if lon == 180 {
		return math.MaxInt32
	}
	return int32(math.Floor(lon * longitudeScale))
}

func DecodeLatitude(encoded int32) float64 {
	return float64(encoded) * latitudeDecode
}

func DecodeLongitude(encoded int32) float64 {
	return float64(encoded) * longitudeDecode
}

// Encode returns the 8-byte big-endian encoding of a point.
func Encode(p Point) []byte {
	b := make([]byte, EncodedSize)
	binary.BigEndian.PutUint32(b, uint32(EncodeLatitude(p.Lat)))
	binary.BigEndian.PutUint32(b[4:], uint32(EncodeLongitude(p.Lon)))
	return b
}

// Decode reverses Encode. The result carries the quantization error of the
// encoding, below one centimeter.
func Decode(b []byte) Point {
	return Point{
		Lat: DecodeLatitude(int32(binary.BigEndian.Uint32(b))),
		Lon: DecodeLongitude(int32(binary.BigEndian.Uint32(b[4:]))),
	}
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}

	return 2 * EarthMeanRadius * math.Asin(math.Sqrt(h))
}
