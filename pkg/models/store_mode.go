package models

import (
	"fmt"
	"strings"
)

// StoreMode tags how a listing reached storage: a manual import or a scheduled one.
type StoreMode string

const (
	StoreModeUnset     StoreMode = ""
	StoreModeManual    StoreMode = "MANUAL"
	StoreModeAutomatic StoreMode = "AUTOMATIC"
)

// String implements fmt.Stringer for logging
func (m StoreMode) String() string {
	if m == "" {
		return "unset"
	}
	return string(m)
}

// IsValid returns true if the mode is a known value
func (m StoreMode) IsValid() bool {
	switch m {
	case StoreModeManual, StoreModeAutomatic:
		return true
	}
	return false
}

// ParseStoreMode accepts the mode name in any case.
func ParseStoreMode(s string) (StoreMode, error) {
	m := StoreMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return StoreModeUnset, fmt.Errorf("unknown store mode '%s' (expected MANUAL or AUTOMATIC)", s)
	}
	return m, nil
}
