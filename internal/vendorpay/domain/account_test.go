package vendorpay

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusPaid, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusPaid, StatusWaiting, true},
		{StatusCancelled, StatusWaiting, true},
		{StatusPaid, StatusPaid, true},
		{StatusPaid, StatusCancelled, false},
		{StatusCancelled, StatusPaid, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v", tc.from, tc.to, got)
		}
	}
}

func TestApplyMarker(t *testing.T) {
	cases := []struct {
		in     string
		status Status
		want   string
	}{
		{"[WAITING] Rent March", StatusPaid, "[PAID] Rent March"},
		{"Rent [PAID] March", StatusCancelled, "Rent [CANCELLED] March"},
		{"Rent March", StatusWaiting, "[WAITING] Rent March"},
		{"[CANCELLED] x [PAID]", StatusWaiting, "[WAITING] x [PAID]"},
		{"", StatusPaid, "[PAID]"},
	}
	for _, tc := range cases {
		if got := ApplyMarker(tc.in, tc.status); got != tc.want {
			t.Fatalf("%q -> %s: got %q, want %q", tc.in, tc.status, got, tc.want)
		}
	}
}

func TestApplyMarker_Idempotent(t *testing.T) {
	once := ApplyMarker("Rent", StatusPaid)
	if twice := ApplyMarker(once, StatusPaid); twice != once {
		t.Fatalf("expected %q, got %q", once, twice)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" PAID "); err != nil || s != StatusPaid {
		t.Fatalf("got %s %v", s, err)
	}
	if s, err := ParseStatus("canceled"); err != nil || s != StatusCancelled {
		t.Fatalf("got %s %v", s, err)
	}
	if _, err := ParseStatus("later"); err == nil {
		t.Fatalf("expected error")
	}
}
