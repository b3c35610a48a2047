package room

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeLabel trims and NFC-normalises a display label so that messages
// built on different devices compare equal.
func NormalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// FormatValue renders a ledger value without trailing zeros.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
