package driver

import "testing"

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{Unknown, "unknown"},
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Idle, "idle"},
		{Buffering, "buffering"},
		{Printing, "printing"},
		{Stopping, "stopping"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Fatalf("State(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestStateOnline(t *testing.T) {
	online := []State{Idle, Buffering, Printing, Stopping}
	offline := []State{Unknown, Disconnected, Connecting}

	for _, s := range online {
		if !s.Online() {
			t.Fatalf("State(%v).Online() = false, want true", s)
		}
	}
	for _, s := range offline {
		if s.Online() {
			t.Fatalf("State(%v).Online() = true, want false", s)
		}
	}
}
