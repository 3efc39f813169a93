package services

import (
	"os"
	"strconv"
	"strings"
)

// IsInternalExtension reports whether a number is a bare extension: all
// digits, exactly the configured extension length (EXTENSION_LENGTH,
// default 4). Extension-to-extension legs carry one of these instead of
// an E.164 number.
func IsInternalExtension(number string) bool {
	n := strings.TrimSpace(number)
	extLen := 4
	if v := strings.TrimSpace(os.Getenv("EXTENSION_LENGTH")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			extLen = parsed
		}
	}
	if len(n) != extLen {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
