package spot

import "strings"

// modeSymbols maps the supported mode names to the single-character tag
// printed by the WSJT-X family of decoders. The same tag is written into the
// MODE column of the spot log.
var modeSymbols = map[string]string{
	"FT8":   "~",
	"JT65":  "#",
	"JT9":   "@",
	"FT4":   "+",
	"WSPR":  "!",
	"FST4W": "`",
	"FT8W":  "%",
	"FT4W":  "^",
}

var symbolModes = func() map[string]string {
	m := make(map[string]string, len(modeSymbols))
	for mode, sym := range modeSymbols {
		m[sym] = mode
	}
	return m
}()

// IsSupportedMode reports whether mode is accepted by the spot clusters.
func IsSupportedMode(mode string) bool {
	_, ok := modeSymbols[mode]
	return ok
}

// ModeSymbol returns the decoder tag for mode.
func ModeSymbol(mode string) (string, bool) {
	sym, ok := modeSymbols[mode]
	return sym, ok
}

// ModeForSymbol is the inverse of ModeSymbol.
func ModeForSymbol(sym string) (string, bool) {
	mode, ok := symbolModes[sym]
	return mode, ok
}

// NormalizeMode uppercases and trims a user supplied mode name.
func NormalizeMode(mode string) string {
	return strings.ToUpper(strings.TrimSpace(mode))
}

// SupportedModes returns the supported mode names in a stable order.
func SupportedModes() []string {
	return []string{"FT8", "FT4", "WSPR", "JT65", "JT9", "FST4W", "FT8W", "FT4W"}
}
