package version

import "testing"

func TestGet(t *testing.T) {
	if Get() == "" {
		t.Fatal("embedded version is empty")
	}

	Override = "v9.9.9"
	defer func() { Override = "" }()
	if got := Get(); got != "9.9.9" {
		t.Errorf("Get() = %q, want 9.9.9", got)
	}
	if got := UserAgent(); got != "queenflow/9.9.9" {
		t.Errorf("UserAgent() = %q", got)
	}
}
