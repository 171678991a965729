package order

import "testing"

func TestTransitions(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "forward new to preparing", from: StatusNew, to: StatusPreparing, want: true},
		{name: "forward preparing to ready", from: StatusPreparing, to: StatusReady, want: true},
		{name: "forward ready to served", from: StatusReady, to: StatusServed, want: true},
		{name: "cancel from new", from: StatusNew, to: StatusCancelled, want: true},
		{name: "send back preparing to new", from: StatusPreparing, to: StatusNew, want: true},
		{name: "send back ready to preparing", from: StatusReady, to: StatusPreparing, want: true},
		{name: "no skip new to ready", from: StatusNew, to: StatusReady, want: false},
		{name: "no cancel from preparing", from: StatusPreparing, to: StatusCancelled, want: false},
		{name: "served is terminal", from: StatusServed, to: StatusNew, want: false},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusPreparing, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("preparing"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := Parse("microwaved"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(StatusServed) || !Terminal(StatusCancelled) {
		t.Fatalf("served and cancelled must be terminal")
	}
	if Terminal(StatusReady) {
		t.Fatalf("ready is not terminal")
	}
}
