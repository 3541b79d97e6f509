package merge

import (
	"strings"
	"unicode"
)

// PhonePolicy controls how phone numbers are reduced to a comparison form.
//
// Comparison uses digits only. A leading "00" international access prefix is
// dropped, and so are leading trunk zeros. When CallingCode is set, national
// numbers of exactly NationalLength digits that were not written in an
// international form get CallingCode prepended, so "+1 (212) 555-0100" and
// "212-555-0100" compare equal under {CallingCode: "1", NationalLength: 10}.
// Without a CallingCode they stay distinct.
type PhonePolicy struct {
	CallingCode    string
	NationalLength int
}

// Policy is the normalization and ordering policy of an Engine.
type Policy struct {
	Phone PhonePolicy
	// StableOrder sorts observations by source URL before reduction so that
	// "last non-empty wins" does not depend on crawl discovery order.
	StableOrder bool
}

func emailKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func socialKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (p PhonePolicy) key(raw string) string {
	trimmed := strings.TrimSpace(raw)
	var b strings.Builder
	for _, r := range trimmed {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		// nothing to normalize; compare on the text itself
		return "text:" + strings.ToLower(trimmed)
	}

	international := strings.HasPrefix(trimmed, "+")
	if strings.HasPrefix(digits, "00") {
		international = true
		digits = digits[2:]
	}
	if stripped := strings.TrimLeft(digits, "0"); stripped != "" {
		digits = stripped
	}
	if p.CallingCode != "" && !international && p.NationalLength > 0 && len(digits) == p.NationalLength {
		digits = p.CallingCode + digits
	}
	return digits
}
