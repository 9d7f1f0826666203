// Package bleaddr canonicalizes 48-bit BLE hardware addresses.
//
// The canonical form is six colon-separated uppercase hex octets
// ("AA:BB:CC:DD:EE:FF"). Input may use colons, dashes, or no separators,
// in any case. Everything else is rejected.
package bleaddr

import (
	"fmt"
	"strings"
)

// hexDigits is the number of hex digits in a 48-bit address.
const hexDigits = 12

// Canonical converts addr to the canonical colon-separated uppercase form.
// Accepts "aa:bb:cc:dd:ee:ff", "AA-BB-CC-DD-EE-FF", and "aabbccddeeff"
// style inputs. Returns an error for anything that is not a 48-bit hex
// address.
func Canonical(addr string) (string, error) {
	stripped := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(addr))
	if len(stripped) != hexDigits {
		return "", fmt.Errorf("invalid hardware address %q: want %d hex digits, have %d", addr, hexDigits, len(stripped))
	}

	upper := strings.ToUpper(stripped)
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", fmt.Errorf("invalid hardware address %q: non-hex character %q", addr, c)
		}
	}

	var b strings.Builder
	b.Grow(hexDigits + 5)
	for i := 0; i < hexDigits; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(upper[i : i+2])
	}
	return b.String(), nil
}

// Valid reports whether addr parses as a 48-bit hardware address.
func Valid(addr string) bool {
	_, err := Canonical(addr)
	return err == nil
}

// Short returns a truncated form for display purposes: the last two octets
// ("EE:FF") of a canonical address, or the input itself when it is not
// canonical.
func Short(addr string) string {
	if len(addr) == 17 && strings.Count(addr, ":") == 5 {
		return addr[12:]
	}
	return addr
}
