package language

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"de", "de"},
		{"DE", "de"},
		{"de-DE", "de"},
		{"en_US", "en"},
		{"deu", "de"},
		{"ger", "de"},
		{"fre", "fr"},
		{"eng", "en"},
		{"German", "de"},
		{"deutsch", "de"},
		{"", ""},
		{" ", ""},
		{"auto", ""},
		{"AUTO", ""},
		{"not a language", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsAuto(t *testing.T) {
	for _, input := range []string{"", "  ", "auto", "Auto"} {
		if !IsAuto(input) {
			t.Fatalf("expected %q to request detection", input)
		}
	}
	if IsAuto("de") {
		t.Fatal("expected explicit language not to request detection")
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("ger"); got != "German" {
		t.Fatalf("DisplayName(ger) = %q, want German", got)
	}
	if got := DisplayName("auto"); got != "Automatic" {
		t.Fatalf("DisplayName(auto) = %q, want Automatic", got)
	}
	if got := DisplayName("???"); got != "???" {
		t.Fatalf("DisplayName(???) = %q, want passthrough", got)
	}
}
