package sensor

import (
	"fmt"
	"strings"
)

// CanonicalMAC converts a MAC written as AABBCCDDEEFF, AA-BB-CC-DD-EE-FF or
// AA:BB:CC:DD:EE:FF into lowercase colon-delimited form. Anything that is not
// a MAC is returned trimmed and lowercased so it still works as a map key.
func CanonicalMAC(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	hex := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(hex) != 12 || !isHex(hex) {
		return s
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String()
}

// IsValidMAC reports whether mac is a 17-char colon-delimited hex address.
func IsValidMAC(mac string) bool {
	if len(mac) != 17 {
		return false
	}
	for i, c := range mac {
		if (i+1)%3 == 0 {
			if c != ':' {
				return false
			}
		} else if !isHexRune(c) {
			return false
		}
	}
	return true
}

// FormatMAC renders six address bytes in canonical form.
func FormatMAC(b []byte) string {
	if len(b) != 6 {
		return ""
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

func isHex(s string) bool {
	for _, c := range s {
		if !isHexRune(c) {
			return false
		}
	}
	return true
}

func isHexRune(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}
