package infra

import "testing"

func TestSplitMarker(t *testing.T) {
	marker, body, err := SplitMarker("\n--sql 42210c6f-e8f5-4820-ad26-ecc50e728548\nselect 1;\n")
	if err != nil {
		t.Fatalf("SplitMarker error: %v", err)
	}
	if marker != "42210c6f-e8f5-4820-ad26-ecc50e728548" {
		t.Fatalf("unexpected marker %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSplitMarkerRejectsUnmarkedQuery(t *testing.T) {
	for _, q := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", ""} {
		if _, _, err := SplitMarker(q); err == nil {
			t.Fatalf("expected error for %q", q)
		}
	}
}
