package coreplane

import "fmt"

// Version is the {major, minor} stamp persisted alongside replicated
// payloads to detect schema incompatibility across upgrades.
type Version struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
}

// IsZero reports whether the stamp is unset (no version recorded yet).
func (v Version) IsZero() bool { return v.Major == 0 && v.Minor == 0 }

// NewerThan reports whether v is strictly newer than o.
func (v Version) NewerThan(o Version) bool {
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	return v.Minor > o.Minor
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }
