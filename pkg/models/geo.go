package models

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

var geoPointRe = regexp.MustCompile(`^\s*(-?\d{1,3}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)\s*$`)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParseGeoPoint parses a "lat,lon" token.
func ParseGeoPoint(text string) (*GeoPoint, error) {
	m := geoPointRe.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: '%s'", utils.ErrInvalidGeoPoint, text)
	}
	lat, _ := strconv.ParseFloat(m[1], 64)
	lon, _ := strconv.ParseFloat(m[2], 64)
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: '%s' out of range", utils.ErrInvalidGeoPoint, text)
	}
	return &GeoPoint{Latitude: lat, Longitude: lon}, nil
}

func (g GeoPoint) String() string {
	return strconv.FormatFloat(g.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(g.Longitude, 'f', -1, 64)
}
