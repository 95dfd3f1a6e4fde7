package env

import "testing"

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("FC_ENV_TEST", "  ")
	if got := Get("FC_ENV_TEST", "json"); got != "json" {
		t.Fatalf("blank value should fall back, got %q", got)
	}
	t.Setenv("FC_ENV_TEST", " console ")
	if got := Get("FC_ENV_TEST", "json"); got != "console" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestFirstPicksEarliestSet(t *testing.T) {
	t.Setenv("FC_ENV_A", "")
	t.Setenv("FC_ENV_B", "worker-b")
	if got := First("FC_ENV_A", "FC_ENV_B"); got != "worker-b" {
		t.Fatalf("expected worker-b, got %q", got)
	}
	if got := First("FC_ENV_A"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
