package dateinput

import "strings"

// Input masking for the booking form fields. The mask progressively inserts
// separators as digits are typed so the field reads DD.MM.YYYY or HH:MM while
// still incomplete. Masking is a pure input affordance: partial input is
// never validated here; validation happens on blur or submit via ParseDate
// and ParseTime.

// MaskDate formats raw typed input as a DD.MM.YYYY string in progress.
// Non-digits are stripped, input beyond eight digits is ignored.
func MaskDate(raw string) string {
	digits := onlyDigits(raw, 8)

	var b strings.Builder
	for i, r := range digits {
		if i == 2 || i == 4 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskTime formats raw typed input as an HH:MM string in progress.
// Non-digits are stripped, input beyond four digits is ignored.
func MaskTime(raw string) string {
	digits := onlyDigits(raw, 4)

	var b strings.Builder
	for i, r := range digits {
		if i == 2 {
			b.WriteByte(':')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func onlyDigits(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == max {
			break
		}
	}
	return b.String()
}
