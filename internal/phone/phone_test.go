package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"07911 123456", "07911123456"},
		{"555.123.4567", "5551234567"},
		{"++15551234567", "+15551234567"},
		{"abc", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"+1 (555) 123-4567", "07911 123456", "+44 7911 123456", "12345"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCandidateFormatsUS(t *testing.T) {
	formats := CandidateFormats("+1 (555) 123-4567")
	want := []string{"+15551234567", "15551234567", "5551234567"}
	for _, w := range want {
		if !contains(formats, w) {
			t.Fatalf("CandidateFormats missing %q, got %v", w, formats)
		}
	}
	if formats[0] != "+15551234567" {
		t.Fatalf("normalized form should come first, got %v", formats)
	}
}

func TestCandidateFormatsUK(t *testing.T) {
	formats := CandidateFormats("+447911123456")
	for _, w := range []string{"7911123456", "07911123456"} {
		if !contains(formats, w) {
			t.Fatalf("international UK number should produce national forms, got %v", formats)
		}
	}

	formats = CandidateFormats("07911 123456")
	if !contains(formats, "+447911123456") {
		t.Fatalf("national UK number should produce the +44 form, got %v", formats)
	}
}

func TestCandidateFormatsNoDuplicates(t *testing.T) {
	formats := CandidateFormats("+15551234567")
	seen := make(map[string]struct{})
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			t.Fatalf("duplicate format %q in %v", f, formats)
		}
		seen[f] = struct{}{}
	}
}

func TestSameNumber(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"+15551234567", "5551234567", true},
		{"5551234567", "+15551234567", true},
		{"+447911123456", "+447911123456", true},
		{"+15551234567", "+15559999999", false},
		{"", "+15551234567", false},
	}
	for _, c := range cases {
		if got := SameNumber(c.a, c.b); got != c.want {
			t.Fatalf("SameNumber(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
		if got := SameNumber(c.b, c.a); got != c.want {
			t.Fatalf("SameNumber(%q, %q) = %v, not symmetric", c.b, c.a, got)
		}
	}
}

func TestIndexKey(t *testing.T) {
	if got := IndexKey("+1 (555) 123-4567"); got != "15551234567" {
		t.Fatalf("IndexKey = %q, want 15551234567", got)
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
