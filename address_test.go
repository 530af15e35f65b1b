package trellis

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestIndexModeConstants(t *testing.T) {
	// Ensure constants are distinct
	modes := []IndexMode{UnicodeMode, UTF8Mode, UTF16Mode}
	seen := make(map[IndexMode]bool)

	for _, mode := range modes {
		if seen[mode] {
			t.Errorf("Duplicate IndexMode value: %d", mode)
		}
		seen[mode] = true
	}
}

func TestRuneWidth(t *testing.T) {
	assert.Equal(t, runeWidth('a', UnicodeMode), 1)
	assert.Equal(t, runeWidth('a', UTF8Mode), 1)
	assert.Equal(t, runeWidth('a', UTF16Mode), 1)

	assert.Equal(t, runeWidth('你', UTF8Mode), 3)
	assert.Equal(t, runeWidth('你', UTF16Mode), 1)

	assert.Equal(t, runeWidth('👍', UnicodeMode), 1)
	assert.Equal(t, runeWidth('👍', UTF8Mode), 4)
	assert.Equal(t, runeWidth('👍', UTF16Mode), 2)
}

func TestRunesWidth(t *testing.T) {
	rs := []rune("a你👍")
	assert.Equal(t, runesWidth(rs, UnicodeMode), 3)
	assert.Equal(t, runesWidth(rs, UTF8Mode), 8)
	assert.Equal(t, runesWidth(rs, UTF16Mode), 4)
}

func TestRuneOffset(t *testing.T) {
	rs := []rune("a👍b")

	tests := []struct {
		pos  int
		mode IndexMode
		want int
		ok   bool
	}{
		{0, UnicodeMode, 0, true},
		{3, UnicodeMode, 3, true},
		{4, UnicodeMode, 0, false},
		{1, UTF16Mode, 1, true},
		{2, UTF16Mode, 0, false}, // inside the surrogate pair
		{3, UTF16Mode, 2, true},
		{4, UTF16Mode, 3, true},
		{5, UTF16Mode, 0, false},
		{5, UTF8Mode, 2, true},
		{3, UTF8Mode, 0, false},
		{-1, UTF8Mode, 0, false},
	}

	for _, tt := range tests {
		got, ok := runeOffset(rs, tt.pos, tt.mode)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("runeOffset(%d, %s) = %d, %v; want %d, %v", tt.pos, tt.mode, got, ok, tt.want, tt.ok)
		}
	}
}
