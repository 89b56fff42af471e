package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	bytesPerKB = 1e3
	bytesPerMB = 1e6
	bytesPerGB = 1e9
)

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:[.,][0-9]+)?)\s*(b|kb|mb|gb)\s*$`)

// ParseSizeMB converts a display size such as "12 MB", "512 kB" or "2,1 MB" into
// megabytes (1 MB = 1000 kB), rounded to three decimals.
func ParseSizeMB(display string) (float64, error) {
	m := sizePattern.FindStringSubmatch(display)
	if m == nil {
		return 0, fmt.Errorf("unrecognized size %q", display)
	}
	value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", display, err)
	}
	var factor float64
	switch strings.ToLower(m[2]) {
	case "b":
		factor = 1
	case "kb":
		factor = bytesPerKB
	case "mb":
		factor = bytesPerMB
	case "gb":
		factor = bytesPerGB
	}
	return math.Round(value*factor/bytesPerMB*1000) / 1000, nil
}
