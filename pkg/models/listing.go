package models

import (
	"fmt"
	"strings"
)

// FeatureExtras is the reserved feature key holding fragments no rule recognised.
const FeatureExtras = "extras"

// Post is a lightweight pointer discovered on a listing index page.
// The hints tell the extractor whether the detail page carries that markup at all.
type Post struct {
	Link         string `json:"link"`
	HasGeoMarker bool   `json:"has_geo_marker"`
	HasVideo     bool   `json:"has_video"`
	Department   string `json:"department,omitempty"` // set by adapters whose detail pages omit it
}

// Features holds cataloged attributes: string, int, bool, Money or the []string extras.
type Features map[string]any

// Int returns an integer feature, accepting the float64 form JSON decoding produces.
func (f Features) Int(key string) (int, bool) {
	switch v := f[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Bool reports whether a flag feature is present and true.
func (f Features) Bool(key string) bool {
	v, ok := f[key].(bool)
	return ok && v
}

// Extras returns the unmatched fragments, if any.
func (f Features) Extras() []string {
	switch v := f[FeatureExtras].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// SqMeters returns the best known area: total surface first, then built surface.
func (f Features) SqMeters() (int, bool) {
	for _, key := range []string{"totalSqMeters", "houseSqMeters", "sqMeters"} {
		if v, ok := f.Int(key); ok {
			return v, true
		}
	}
	return 0, false
}

// Listing is one rental house extracted from a source. Identity is (Source, SourceID).
type Listing struct {
	Source        string    `json:"source"`
	SourceID      string    `json:"source_id"`
	Title         string    `json:"title"`
	Link          string    `json:"link"`
	Address       string    `json:"address"`
	Phone         string    `json:"phone,omitempty"`
	Price         Money     `json:"price"`
	Department    string    `json:"department"`
	Neighbourhood string    `json:"neighbourhood"`
	Description   string    `json:"description"`
	Pictures      []string  `json:"pictures"`
	VideoLink     string    `json:"video_link,omitempty"`
	GeoReference  *GeoPoint `json:"geo_reference,omitempty"`
	Warranties    []string  `json:"warranties,omitempty"`
	Features      Features  `json:"features"`
	StoreMode     StoreMode `json:"store_mode"`
}

// Key returns the identity of the listing as a single string.
func (l *Listing) Key() string {
	return l.Source + "/" + l.SourceID
}

// Validate lists the structural problems that make the listing unusable.
// An empty result means the listing is valid.
func (l *Listing) Validate() []string {
	var problems []string
	required := []struct{ name, value string }{
		{"source", l.Source},
		{"source_id", l.SourceID},
		{"title", l.Title},
		{"link", l.Link},
		{"address", l.Address},
		{"department", l.Department},
		{"neighbourhood", l.Neighbourhood},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, "missing "+r.name)
		}
	}
	if !l.Price.IsPositive() {
		problems = append(problems, "price must be greater than zero")
	}
	if len(l.Pictures) == 0 {
		problems = append(problems, "no pictures")
	}
	if len(l.Features) == 0 {
		problems = append(problems, "no features")
	}
	return problems
}

// IsValid reports whether Validate found no problems.
func (l *Listing) IsValid() bool {
	return len(l.Validate()) == 0
}
