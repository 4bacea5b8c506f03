package library

import (
	"errors"
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"
)

// ErrInvalidGeohash means a string is not a geohash we can work with.
var ErrInvalidGeohash = errors.New("invalid geohash")

// GeohashPrecision is the number of characters used when encoding claimant
// coordinates. Matches the precision badges are authored with.
const GeohashPrecision = 12

// DefaultProximityThresholdMeters is the radius inside which a location bound
// claim is accepted. 50km is what the product currently ships with; override
// with the proximityThresholdMeters config key.
const DefaultProximityThresholdMeters = 50_000.0

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// approximateErrorByPrefix maps the number of matching leading characters of
// two geohashes to a worst case distance in meters.
var approximateErrorByPrefix = []float64{
	20_000_000, 5_003_530, 625_441, 123_264, 19_545, 3_803, 610, 118, 19, 3.71, 0.6,
}

// EncodeGeohash encodes a lat/long pair at the engine's fixed precision.
func EncodeGeohash(lat, long float64) string {
	return geohash.EncodeWithPrecision(lat, long, GeohashPrecision)
}

func validGeohash(gh string) bool {
	if len(gh) == 0 {
		return false
	}
	for _, c := range strings.ToLower(gh) {
		if !strings.ContainsRune(geohashAlphabet, c) {
			return false
		}
	}
	return true
}

// ApproximateDistanceMeters is a cheap pre-filter: it only looks at how many
// leading characters two geohashes share. Never use it for the authoritative
// accept/reject decision.
func ApproximateDistanceMeters(a, b string) (float64, error) {
	if !validGeohash(a) || !validGeohash(b) {
		return 0, ErrInvalidGeohash
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	matching := 0
	for matching < len(a) && matching < len(b) && a[matching] == b[matching] {
		matching++
	}
	if matching >= len(approximateErrorByPrefix) {
		matching = len(approximateErrorByPrefix) - 1
	}
	return approximateErrorByPrefix[matching], nil
}

// HaversineDistanceMeters is the authoritative great circle distance between
// the centers of two geohash cells.
func HaversineDistanceMeters(a, b string) (float64, error) {
	if !validGeohash(a) || !validGeohash(b) {
		return 0, ErrInvalidGeohash
	}
	latA, longA := geohash.DecodeCenter(strings.ToLower(a))
	latB, longB := geohash.DecodeCenter(strings.ToLower(b))

	const earthRadiusMeters = 6_371_000.0
	phiA := latA * math.Pi / 180
	phiB := latB * math.Pi / 180
	dPhi := (latB - latA) * math.Pi / 180
	dLambda := (longB - longA) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phiA)*math.Cos(phiB)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h)), nil
}
