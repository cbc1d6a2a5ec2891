package speech

import (
	"sync"
	"unicode/utf8"
)

// TextInput is the chat input buffer shared by typing and dictation
type TextInput struct {
	mu     sync.Mutex
	value  string
	cursor int // in runes
}

// Value returns the current content
func (t *TextInput) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// SetValue replaces the content and moves the cursor to the end
func (t *TextInput) SetValue(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = s
	t.cursor = utf8.RuneCountInString(s)
}

// Cursor returns the cursor position in runes
func (t *TextInput) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// SetCursor moves the cursor, clamped to the content
func (t *TextInput) SetCursor(pos int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := utf8.RuneCountInString(t.value)
	switch {
	case pos < 0:
		pos = 0
	case pos > n:
		pos = n
	}
	t.cursor = pos
}

// Take returns the content and clears the buffer
func (t *TextInput) Take() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.value
	t.value = ""
	t.cursor = 0
	return s
}
