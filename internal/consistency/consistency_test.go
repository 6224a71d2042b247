package consistency

import "testing"

func TestIsOrphaned(t *testing.T) {
	cases := []struct {
		local, service int
		want           bool
	}{
		{0, 0, false},
		{10, 4, true},   // under half
		{10, 5, false},  // exactly half, not orphaned
		{10, 6, false},
		{1, 0, true},
	}
	for _, c := range cases {
		if got := isOrphaned(c.local, c.service); got != c.want {
			t.Errorf("isOrphaned(%d, %d) = %v, want %v", c.local, c.service, got, c.want)
		}
	}
}
