// Package phone canonicalizes phone numbers and generates the candidate
// formats used to match device contacts against the user directory. Numbers
// reach the system from at least three uncontrolled sources (device
// contacts, typed registration input, directory values) with no shared
// formatting authority, so matching has to bridge local and international
// conventions.
package phone

import "strings"

// Normalize reduces a phone string to digits plus an optional single
// leading "+". Idempotent.
func Normalize(number string) string {
	var b strings.Builder
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CandidateFormats returns the plausible equivalent representations of a
// number, most specific first. The set covers: the normalized form, the
// "+"-less form, a synthesized international form, with/without the +1 and
// +44 country prefixes (including the UK leading-zero national convention),
// and last-10/last-9 digit suffixes as a final fallback.
func CandidateFormats(number string) []string {
	normalized := Normalize(number)
	if normalized == "" {
		return nil
	}

	formats := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(f string) {
		if f == "" {
			return
		}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		formats = append(formats, f)
	}

	add(normalized)

	if strings.HasPrefix(normalized, "+") {
		add(normalized[1:])
	}
	if len(normalized) > 10 && !strings.HasPrefix(normalized, "+") {
		add("+" + normalized)
	}

	// US/CA numbers: ten national digits behind the +1 prefix.
	if strings.HasPrefix(normalized, "+1") && len(normalized) == 12 {
		add(normalized[2:])
	} else if len(normalized) == 10 {
		add("+1" + normalized)
	}

	// UK numbers: the national form replaces +44 with a leading zero.
	if strings.HasPrefix(normalized, "+44") && len(normalized) >= 12 {
		add(normalized[3:])
		add("0" + normalized[3:])
	} else if strings.HasPrefix(normalized, "0") && len(normalized) == 11 {
		add("+44" + normalized[1:])
	}

	if len(normalized) >= 10 {
		add(normalized[len(normalized)-10:])
	}
	if len(normalized) >= 9 {
		add(normalized[len(normalized)-9:])
	}

	return formats
}

// SameNumber approximates "same number, different formatting": one
// normalized number being a suffix of the other. Used for self-exclusion
// during contact matching.
func SameNumber(a, b string) bool {
	na, nb := strings.TrimPrefix(Normalize(a), "+"), strings.TrimPrefix(Normalize(b), "+")
	if na == "" || nb == "" {
		return false
	}
	return strings.HasSuffix(na, nb) || strings.HasSuffix(nb, na)
}

// IndexKey is the key a number is filed under in the phone index: the
// normalized form with the "+" stripped.
func IndexKey(number string) string {
	return strings.ReplaceAll(Normalize(number), "+", "")
}
