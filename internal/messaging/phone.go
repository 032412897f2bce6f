package messaging

import "strings"

const maxE164Digits = 15

// NormalizeE164 formats a configured phone number for the Twilio API. Ten
// digit numbers are taken as North American and get country code 1, and a
// leading 00 international prefix is dropped. Anything that cannot be an
// E.164 number yields "".
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if !strings.HasPrefix(value, "+") {
		switch {
		case strings.HasPrefix(digits, "00"):
			digits = digits[2:]
		case len(digits) == 10:
			digits = "1" + digits
		}
	}
	if len(digits) < 8 || len(digits) > maxE164Digits {
		return ""
	}
	return "+" + digits
}
