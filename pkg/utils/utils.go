package utils

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// IsValidKeyFormat checks if the string contains only allowed characters.
// Allowed: a-z, A-Z, 0-9, -, _
// Resource ids become directory names, so path separators are refused.
func IsValidKeyFormat(k string) bool {
	if k == "" || k == "." || k == ".." {
		return false
	}

	for _, r := range k {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// ParseInt safely parses a string to int with bounds checking.
// Usage: ParseInt("500", 0, 0, 1000) -> Returns 500
// Usage: ParseInt("abc", 7, 0, 1000) -> Returns 7 (Default)
func ParseInt(value string, def int, min int, max int) int {
	if value == "" {
		return def
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	if i < min {
		return min
	}
	if i > max {
		return max
	}
	return i
}
