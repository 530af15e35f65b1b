package trellis

import (
	"unicode/utf16"
	"unicode/utf8"
)

// IndexMode specifies how a text position or length is measured.
type IndexMode int

const (
	// UnicodeMode counts Unicode scalar values (runes).
	UnicodeMode IndexMode = iota

	// UTF8Mode counts UTF-8 bytes.
	UTF8Mode

	// UTF16Mode counts UTF-16 code units. Characters outside the BMP count twice.
	UTF16Mode
)

// String returns the name of the mode.
func (m IndexMode) String() string {
	switch m {
	case UnicodeMode:
		return "unicode"
	case UTF8Mode:
		return "utf8"
	case UTF16Mode:
		return "utf16"
	default:
		return "unknown"
	}
}

// runeWidth returns the size of r in the given mode.
func runeWidth(r rune, mode IndexMode) int {
	switch mode {
	case UTF8Mode:
		return utf8.RuneLen(r)
	case UTF16Mode:
		return utf16.RuneLen(r)
	default:
		return 1
	}
}

// runesWidth returns the total size of rs in the given mode.
func runesWidth(rs []rune, mode IndexMode) int {
	if mode == UnicodeMode {
		return len(rs)
	}
	n := 0
	for _, r := range rs {
		n += runeWidth(r, mode)
	}
	return n
}

// runeOffset converts a position measured in mode into a rune index of rs.
// The position must fall on a character boundary.
func runeOffset(rs []rune, pos int, mode IndexMode) (int, bool) {
	if pos < 0 {
		return 0, false
	}
	if mode == UnicodeMode {
		return pos, pos <= len(rs)
	}
	units := 0
	for i, r := range rs {
		if units == pos {
			return i, true
		}
		if units > pos {
			return 0, false
		}
		units += runeWidth(r, mode)
	}
	return len(rs), units == pos
}
