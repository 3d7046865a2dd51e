package language

import (
	"strings"

	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto is the sentinel accepted for worker-side language detection.
const Auto = "auto"

// bibliographic ISO 639-2/B codes that x/text does not canonicalize.
var bibliographic = map[string]string{
	"fre": "fr",
	"ger": "de",
	"chi": "zh",
	"dut": "nl",
	"cze": "cs",
	"gre": "el",
	"per": "fa",
	"rum": "ro",
	"slo": "sk",
	"wel": "cy",
}

var words = map[string]string{
	"english":    "en",
	"german":     "de",
	"deutsch":    "de",
	"french":     "fr",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"russian":    "ru",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// Normalize converts a recognized language hint to ISO 639-1. It returns the
// empty string for automatic detection and for input it cannot map.
func Normalize(input string) string {
	code := strings.ToLower(strings.TrimSpace(input))
	if code == "" || code == Auto {
		return ""
	}
	if mapped, ok := words[code]; ok {
		return mapped
	}
	if mapped, ok := bibliographic[code]; ok {
		return mapped
	}
	code = strings.ReplaceAll(code, "_", "-")
	tag, err := xlang.Parse(code)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == xlang.No {
		return ""
	}
	// Languages without a two-letter code keep their ISO 639-3 form.
	return base.String()
}

// IsAuto reports whether the hint requests automatic language detection.
func IsAuto(input string) bool {
	code := strings.ToLower(strings.TrimSpace(input))
	return code == "" || code == Auto
}

// DisplayName returns the English name for a language hint, "Automatic" for
// detection, or the upper-cased input when it is unrecognized.
func DisplayName(input string) string {
	if IsAuto(input) {
		return "Automatic"
	}
	code := Normalize(input)
	if code == "" {
		return strings.ToUpper(strings.TrimSpace(input))
	}
	tag, err := xlang.Parse(code)
	if err != nil {
		return strings.ToUpper(code)
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return strings.ToUpper(code)
}
