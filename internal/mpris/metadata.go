package mpris

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

// Metadata extraction helpers. MPRIS metadata maps vary wildly between
// players, so every accessor tolerates missing keys and wrong variant
// types and falls back to a zero value.

func metadataString(m map[string]dbus.Variant, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// metadataArtists joins the artist list with ", ". Some non-compliant
// players send a plain string instead of an array; both are accepted.
func metadataArtists(m map[string]dbus.Variant, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	switch val := v.Value().(type) {
	case []string:
		return strings.Join(val, ", ")
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// metadataInt64 reads an integer that players encode as any of the four
// common integer variant types
func metadataInt64(m map[string]dbus.Variant, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch val := v.Value().(type) {
	case int64:
		return val
	case uint64:
		return int64(val)
	case int32:
		return int64(val)
	case uint32:
		return int64(val)
	default:
		return 0
	}
}

// metadataTrackID reads the opaque track identifier, which is an object
// path in MPRIS but a plain string in some players
func metadataTrackID(m map[string]dbus.Variant) string {
	v, ok := m["mpris:trackid"]
	if !ok {
		return ""
	}
	switch val := v.Value().(type) {
	case dbus.ObjectPath:
		return string(val)
	case string:
		return val
	default:
		return ""
	}
}
