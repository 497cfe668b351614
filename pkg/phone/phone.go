package phone

import "strings"

// Phone helpers are pure; they never fail. Inputs that cannot be interpreted are
// returned in the most faithful form available so callers can still display them.

// Digits strips everything except 0-9.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToE164 converts a North American or already-international number to E.164.
//
//	"5551234567"      -> "+15551234567"
//	"1 (555) 123-4567" -> "+15551234567"
//	"+44 20 7946 0958" -> "+442079460958"
func ToE164(s string) string {
	s = strings.TrimSpace(s)
	d := Digits(s)
	switch {
	case d == "":
		return ""
	case len(d) == 10:
		return "+1" + d
	}
	return "+" + d
}

// Format renders a number for display. US numbers become "(555) 123-4567";
// anything else is returned in E.164 form.
func Format(s string) string {
	d := Digits(s)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) == 10 {
		return "(" + d[0:3] + ") " + d[3:6] + "-" + d[6:]
	}
	return ToE164(s)
}

// AreaCode returns the 3-digit NANP area code (the characters after "+1"),
// or "" when the number is not a +1 number.
func AreaCode(s string) string {
	e := ToE164(s)
	if len(e) < 5 || !strings.HasPrefix(e, "+1") {
		return ""
	}
	return e[2:5]
}

// Equal reports whether two numbers refer to the same E.164 destination.
func Equal(a, b string) bool {
	ea, eb := ToE164(a), ToE164(b)
	return ea != "" && ea == eb
}
