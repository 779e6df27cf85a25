// Package version holds the engine's own semantic version, used by the
// registry's engine-version floor check (spec §3.4) and by save/restore's
// engine-version compatibility check (spec §4.4.8).
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the engine's semantic version.
const Current = "1.0.0"

// Parse splits a "major.minor.patch" string into its three integers.
func Parse(v string) (major, minor, patch int, err error) {
	parts := strings.SplitN(v, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(strings.TrimSpace(p))
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("invalid version segment %q in %q: %w", p, v, convErr)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Compare(a, b string) (int, error) {
	aMaj, aMin, aPat, err := Parse(a)
	if err != nil {
		return 0, err
	}
	bMaj, bMin, bPat, err := Parse(b)
	if err != nil {
		return 0, err
	}
	for _, pair := range [][2]int{{aMaj, bMaj}, {aMin, bMin}, {aPat, bPat}} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

// AtLeast reports whether v >= floor.
func AtLeast(v, floor string) (bool, error) {
	cmp, err := Compare(v, floor)
	if err != nil {
		return false, err
	}
	return cmp >= 0, nil
}
