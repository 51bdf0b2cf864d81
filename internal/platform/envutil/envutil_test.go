package envutil

import "testing"

func TestHelpers(t *testing.T) {
	t.Setenv("MODMON_TEST_INT", "12")
	t.Setenv("MODMON_TEST_BAD_INT", "x")
	t.Setenv("MODMON_TEST_FLOAT", "0.25")
	t.Setenv("MODMON_TEST_BOOL", "On")
	t.Setenv("MODMON_TEST_STR", "  value ")

	if got := Int("MODMON_TEST_INT", 1); got != 12 {
		t.Fatalf("Int: %d", got)
	}
	if got := Int("MODMON_TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("Int fallback: %d", got)
	}
	if got := Float("MODMON_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("Float: %v", got)
	}
	if !Bool("MODMON_TEST_BOOL", false) {
		t.Fatalf("Bool: expected true")
	}
	if Bool("MODMON_TEST_UNSET", false) {
		t.Fatalf("Bool default: expected false")
	}
	if got := String("MODMON_TEST_STR", "d"); got != "value" {
		t.Fatalf("String: %q", got)
	}
}
