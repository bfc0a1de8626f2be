package rangeserver

import "testing"

func TestParseRangeSeekWithinBounds(t *testing.T) {
	const size = 100000
	start, end, ok := parseRange("bytes=0-999", size)
	if !ok || start != 0 || end != 999 {
		t.Fatalf("expected 0-999, got start=%d end=%d ok=%v", start, end, ok)
	}
}

func TestParseRangeOpenEndedNearEOF(t *testing.T) {
	const size = 100000
	start, end, ok := parseRange("bytes=99000-", size)
	if !ok || start != 99000 || end != 99999 {
		t.Fatalf("expected 99000-99999, got start=%d end=%d ok=%v", start, end, ok)
	}
}

func TestParseRangeUnsatisfiableBeyondSize(t *testing.T) {
	const size = 100000
	_, _, ok := parseRange("bytes=200000-", size)
	if ok {
		t.Fatal("expected unsatisfiable range to return ok=false")
	}
}

func TestParseRangeSuffixForm(t *testing.T) {
	const size = 1000
	start, end, ok := parseRange("bytes=-100", size)
	if !ok || start != 900 || end != 999 {
		t.Fatalf("expected 900-999, got start=%d end=%d ok=%v", start, end, ok)
	}
}

func TestParseRangeMalformedRejected(t *testing.T) {
	const size = 1000
	if _, _, ok := parseRange("bytes=abc-def", size); ok {
		t.Fatal("expected malformed range to be rejected")
	}
}

func TestParseRangeMultiRangeRejected(t *testing.T) {
	const size = 1000
	if _, _, ok := parseRange("bytes=0-99,200-299", size); ok {
		t.Fatal("expected multi-range request to be rejected")
	}
}

func TestContainedInAnyRootRejectsTraversal(t *testing.T) {
	roots := []string{"/media/movies"}
	if containedInAnyRoot("/etc/passwd", roots) {
		t.Fatal("expected /etc/passwd to be rejected as outside library roots")
	}
}
