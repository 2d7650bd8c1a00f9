package allowlist

import "fmt"

// PSK-d length bounds from the Thread commissioning spec.
const (
	PskdMinLength = 6
	PskdMaxLength = 32
)

// ValidatePskd checks a joiner pre-shared key: 6 to 32 characters,
// uppercase alphanumeric, excluding the easily confused I, O, Q and Z.
func ValidatePskd(pskd string) error {
	if len(pskd) < PskdMinLength || len(pskd) > PskdMaxLength {
		return fmt.Errorf("pskd has invalid length %d (want %d..%d)", len(pskd), PskdMinLength, PskdMaxLength)
	}
	for _, c := range pskd {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
			if c == 'I' || c == 'O' || c == 'Q' || c == 'Z' {
				return fmt.Errorf("pskd contains illegal character %q", c)
			}
		default:
			return fmt.Errorf("pskd must be uppercase alphanumeric, found %q", c)
		}
	}
	return nil
}
