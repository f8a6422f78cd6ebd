// Package utils provides common helper functions for string manipulation,
// data parsing, and system operations used across the application.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// sizeUnits are binary multipliers (1KB = 1024 bytes), longest suffix first.
var sizeUnits = []struct {
	suffix string
	shift  uint
}{
	{"PB", 50}, {"TB", 40}, {"GB", 30}, {"MB", 20}, {"KB", 10}, {"B", 0},
}

// ParseSize reads a human-readable size such as "5MB", "512 kb" or "100".
// A bare number is bytes.
func ParseSize(s string) (int64, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	num, shift := raw, uint(0)
	for _, u := range sizeUnits {
		if strings.HasSuffix(raw, u.suffix) {
			num, shift = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix)), u.shift
			break
		}
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > math.MaxInt64>>shift {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return n << shift, nil
}
