// Package speed converts between discrete named fan speeds and a
// 0-100 speed percentage.
package speed

import (
	"errors"
	"fmt"
)

// Levels is the ordered list of named speeds understood by the relay.
// Off is not a member; it is implied by the fan being off.
var Levels = []string{"1", "2", "3"}

var (
	ErrInvalidLevel = errors.New("speed level not in list")
	ErrNoLevel      = errors.New("percentage does not map to a level")
)

// upperEdge is the highest percentage of the band at 1-based position
// pos when 100 is divided into n equal bands, rounded half up.
func upperEdge(pos, n int) int {
	return (pos*200 + n) / (2 * n)
}

// PercentageToLevel maps pct onto the level whose band contains it.
// Percentages above 100 resolve to the last level. Zero and negative
// percentages have no level; callers treat them as off.
func PercentageToLevel(levels []string, pct int) (string, error) {
	n := len(levels)
	if n == 0 {
		return "", ErrNoLevel
	}
	if pct <= 0 {
		return "", fmt.Errorf("%w: %d", ErrNoLevel, pct)
	}

	for i, level := range levels {
		if pct <= upperEdge(i+1, n) {
			return level, nil
		}
	}

	return levels[n-1], nil
}

// LevelToPercentage returns the upper edge of the band belonging to level.
func LevelToPercentage(levels []string, level string) (int, error) {
	for i, l := range levels {
		if l == level {
			return upperEdge(i+1, len(levels)), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
}
