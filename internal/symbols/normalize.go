// Package symbols handles ticker symbol forms and symbol universes.
//
// A symbol has three forms: the cache form (exactly as the operator supplied
// it, e.g. "BRK.B"), the wire form used in upstream URLs ("BRK-B"), and the
// file form used for output filenames ("BRK_B"). Index symbols carry a
// leading caret on the wire ("^GSPC") which is unsafe in filenames.
package symbols

import "strings"

// WireForm converts a symbol to the form the upstream API expects.
// Dots become dashes; the index caret is preserved.
func WireForm(symbol string) string {
	return strings.ReplaceAll(strings.TrimSpace(symbol), ".", "-")
}

// FileForm converts a symbol to a filename-safe form.
// Dots become underscores and the index caret becomes a leading underscore,
// so "^GSPC" and a hypothetical "GSPC" ticker cannot collide.
func FileForm(symbol string) string {
	s := strings.ReplaceAll(strings.TrimSpace(symbol), ".", "_")
	return strings.ReplaceAll(s, "^", "_")
}

// IsIndex reports whether the symbol refers to an index rather than an equity.
func IsIndex(symbol string) bool {
	return strings.HasPrefix(strings.TrimSpace(symbol), "^")
}
