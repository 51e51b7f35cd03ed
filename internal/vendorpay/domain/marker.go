package vendorpay

import "strings"

var markers = map[Status]string{
	StatusWaiting:   "[WAITING]",
	StatusPaid:      "[PAID]",
	StatusCancelled: "[CANCELLED]",
}

// Marker returns the bracketed tag of s.
func Marker(s Status) string {
	return markers[s]
}

// ApplyMarker replaces the first known status tag in description with the
// tag of s, or prepends one when none is present.
func ApplyMarker(description string, s Status) string {
	want := Marker(s)
	if want == "" {
		return description
	}
	at, tag := -1, ""
	for _, m := range markers {
		if i := strings.Index(description, m); i >= 0 && (at < 0 || i < at) {
			at, tag = i, m
		}
	}
	if at < 0 {
		if description == "" {
			return want
		}
		return want + " " + description
	}
	return description[:at] + want + description[at+len(tag):]
}
