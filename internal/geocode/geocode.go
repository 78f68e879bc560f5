package geocode

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrNotFound = errors.New("geocode not found")

type Address struct {
	Road        string `json:"road"`
	Suburb      string `json:"suburb"`
	Village     string `json:"village"`
	Town        string `json:"town"`
	City        string `json:"city"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// BuildLabel turns an address into the short place name shown on a case,
// e.g. "Westminster, London". It falls back to the full display name.
func BuildLabel(addr Address, displayName string) string {
	locality := firstNonEmpty(addr.City, addr.Town, addr.Village, addr.County)
	area := firstNonEmpty(addr.Suburb, addr.Road)
	parts := []string{}
	if area != "" && area != locality {
		parts = append(parts, area)
	}
	if locality != "" {
		parts = append(parts, locality)
	}
	if len(parts) == 0 && addr.State != "" {
		parts = append(parts, addr.State)
	}
	if len(parts) == 0 {
		return strings.TrimSpace(displayName)
	}
	return strings.Join(parts, ", ")
}

// CacheKey rounds coordinates to roughly 10 m so nearby lookups share a result.
func CacheKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", round4(lat), round4(lng))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
