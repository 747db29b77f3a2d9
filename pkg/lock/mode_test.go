package lock

import "testing"

func TestModeCompatibilityMatrix(t *testing.T) {
	cases := []struct {
		held, want Mode
		compatible bool
	}{
		{Shared, Shared, true},
		{Shared, Upgradable, true},
		{Shared, Exclusive, false},
		{Upgradable, Shared, true},
		{Upgradable, Upgradable, false},
		{Upgradable, Exclusive, false},
		{Exclusive, Shared, false},
		{Exclusive, Upgradable, false},
		{Exclusive, Exclusive, false},
	}
	for _, c := range cases {
		if got := compatible(c.held, c.want); got != c.compatible {
			t.Errorf("compatible(%v, %v) = %v, want %v", c.held, c.want, got, c.compatible)
		}
	}
}

func TestModeString(t *testing.T) {
	if Shared.String() != "shared" || Upgradable.String() != "upgradable" || Exclusive.String() != "exclusive" {
		t.Fatal("Mode.String() did not return the expected labels")
	}
}
