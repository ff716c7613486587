package nfly

import (
	"fmt"
	"strconv"
	"strings"
)

// Settings controls how a merge link spreads writes and picks reads
type Settings struct {
	// WriteTargets are indices of targets that accept writes
	WriteTargets []int
	// MinReplication is the number of write targets that must succeed
	MinReplication int
	// ReadMostRecent picks the replica with the newest mtime for status and open
	ReadMostRecent bool
}

// ParseSettings parses "key=value[,key=value]" for n targets.
//
// Keys: writeTargets=i:j:..., minReplication=N, readMostRecent=true|false.
// minReplication defaults to the number of write targets and is only valid
// together with writeTargets.
func ParseSettings(raw string, n int) (Settings, error) {
	var s Settings
	minSet := false

	for _, kv := range strings.Split(raw, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return s, fmt.Errorf("nfly setting %q is not key=value", kv)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "writeTargets":
			seen := make(map[int]bool)
			for _, part := range strings.Split(value, ":") {
				idx, err := strconv.Atoi(part)
				if err != nil {
					return s, fmt.Errorf("nfly writeTargets %q: %w", value, err)
				}
				if idx < 0 || idx >= n {
					return s, fmt.Errorf("nfly write target %d out of range [0,%d)", idx, n)
				}
				if !seen[idx] {
					seen[idx] = true
					s.WriteTargets = append(s.WriteTargets, idx)
				}
			}
		case "minReplication":
			v, err := strconv.Atoi(value)
			if err != nil {
				return s, fmt.Errorf("nfly minReplication %q: %w", value, err)
			}
			if v < 1 {
				return s, fmt.Errorf("nfly minReplication must be positive, got %d", v)
			}
			s.MinReplication = v
			minSet = true
		case "readMostRecent":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return s, fmt.Errorf("nfly readMostRecent %q: %w", value, err)
			}
			s.ReadMostRecent = v
		default:
			return s, fmt.Errorf("unknown nfly setting %q", key)
		}
	}

	if !minSet {
		s.MinReplication = len(s.WriteTargets)
	}
	if minSet && len(s.WriteTargets) == 0 {
		return s, fmt.Errorf("nfly minReplication %d needs writeTargets", s.MinReplication)
	}
	if s.MinReplication > len(s.WriteTargets) {
		return s, fmt.Errorf("nfly minReplication %d exceeds %d write targets", s.MinReplication, len(s.WriteTargets))
	}
	return s, nil
}

// DefaultSettings writes to all n targets and requires every write to land
func DefaultSettings(n int) string {
	idx := make([]string, n)
	for i := range idx {
		idx[i] = strconv.Itoa(i)
	}
	return "writeTargets=" + strings.Join(idx, ":")
}
