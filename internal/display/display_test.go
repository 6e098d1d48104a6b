package display

import "testing"

func TestKind(t *testing.T) {
	cases := []struct {
		slug, want string
	}{
		{"test-flake", "Test Flake"},
		{"infra-flake", "Infrastructure Flake"},
		{"bug", "Product Bug"},
		{"build-error", "Build Error"},
		{"unknown", "unknown"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Kind(tc.slug); got != tc.want {
			t.Errorf("Kind(%q) = %q, want %q", tc.slug, got, tc.want)
		}
	}
}

func TestStatus(t *testing.T) {
	if got := Status("in_progress"); got != "In Progress" {
		t.Errorf("got %q", got)
	}
	if got := Status("weird"); got != "weird" {
		t.Errorf("got %q", got)
	}
}

func TestCategoryKey(t *testing.T) {
	cases := []struct {
		key, want string
	}{
		{"test-flake/timeout", "Test Flake / timeout"},
		{"test-flake/timeout/eventloop", "Test Flake / timeout / eventloop"},
		{"bug/nil-deref", "Product Bug / nil-deref"},
		{"unclassified", "unclassified"},
	}
	for _, tc := range cases {
		if got := CategoryKey(tc.key); got != tc.want {
			t.Errorf("CategoryKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}
