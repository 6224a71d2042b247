package opsapi

import "testing"

func TestPortAddr(t *testing.T) {
	cases := []struct {
		port int
		want string
	}{
		{9090, ":9090"},
		{8080, ":8080"},
		{0, ":9090"},
		{-1, ":9090"},
	}
	for _, c := range cases {
		if got := portAddr(c.port); got != c.want {
			t.Errorf("portAddr(%d) = %q, want %q", c.port, got, c.want)
		}
	}
}
