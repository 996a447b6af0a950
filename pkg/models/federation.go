package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FederationVersion selects the composition semantics. A zero Exact means
// "latest release of Major".
type FederationVersion struct {
	Major int
	Exact string
}

var (
	// LatestFedOne is the newest federation 1 composition.
	LatestFedOne = FederationVersion{Major: 1}
	// LatestFedTwo is the newest federation 2 composition.
	LatestFedTwo = FederationVersion{Major: 2}
)

// ParseFederationVersion accepts "1", "2", "v2", "=2.3.4" and "2.3.4".
func ParseFederationVersion(s string) (FederationVersion, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "=")
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V")
	if raw == "" {
		return FederationVersion{}, fmt.Errorf("federation version is empty")
	}

	parts := strings.Split(raw, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return FederationVersion{}, fmt.Errorf("invalid federation version %q", s)
	}
	if major != 1 && major != 2 {
		return FederationVersion{}, fmt.Errorf("unsupported federation version %q: major must be 1 or 2", s)
	}
	if len(parts) == 1 {
		return FederationVersion{Major: major}, nil
	}
	if len(parts) != 3 {
		return FederationVersion{}, fmt.Errorf("invalid federation version %q: expected major or major.minor.patch", s)
	}
	for _, p := range parts[1:] {
		if _, err := strconv.Atoi(p); err != nil {
			return FederationVersion{}, fmt.Errorf("invalid federation version %q", s)
		}
	}
	return FederationVersion{Major: major, Exact: raw}, nil
}

// IsZero reports whether no version has been selected.
func (v FederationVersion) IsZero() bool {
	return v.Major == 0
}

// IsFedTwo reports whether the version uses federation 2 semantics.
func (v FederationVersion) IsFedTwo() bool {
	return v.Major == 2
}

// String renders the version the way the composition binary expects it.
func (v FederationVersion) String() string {
	if v.IsZero() {
		return ""
	}
	if v.Exact != "" {
		return "=" + v.Exact
	}
	return strconv.Itoa(v.Major)
}
