package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LeadFire is a derived pre-trigger Minutes before its parent instant.
type LeadFire struct {
	Minutes int
	At      time.Time
}

// NormalizeLeadOffsets rejects non-positive offsets and returns the distinct
// values in descending order (earliest fire first).
func NormalizeLeadOffsets(offsets []int) ([]int, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	seen := make(map[int]struct{}, len(offsets))
	out := make([]int, 0, len(offsets))
	for _, m := range offsets {
		if m <= 0 {
			return nil, &MalformedError{Field: "lead", Value: strconv.Itoa(m), Err: fmt.Errorf("lead minutes must be > 0")}
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

// ParseLeadOffsets parses the delimited form ("60,10" or "60 10").
func ParseLeadOffsets(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	vals := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, &MalformedError{Field: "lead", Value: p, Err: err}
		}
		vals = append(vals, n)
	}
	return NormalizeLeadOffsets(vals)
}

// FormatLeadOffsets is the inverse of ParseLeadOffsets.
func FormatLeadOffsets(offsets []int) string {
	if len(offsets) == 0 {
		return ""
	}
	parts := make([]string, len(offsets))
	for i, m := range offsets {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",")
}

// LeadFires returns the lead instants strictly after now, earliest first.
// Offsets are expected to be normalized already; duplicates collapse anyway.
func LeadFires(at time.Time, offsets []int, now time.Time) []LeadFire {
	if at.IsZero() || len(offsets) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(offsets))
	out := make([]LeadFire, 0, len(offsets))
	for _, m := range offsets {
		if m <= 0 {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		fire := at.Add(-time.Duration(m) * time.Minute)
		if !fire.After(now) {
			continue
		}
		out = append(out, LeadFire{Minutes: m, At: fire})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
