// Package locale maps client locale tags to the vocabularies used upstream:
// STT language codes, synthesis voices and user-facing messages.
package locale

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLocale is returned when a tag or code has no mapping
var ErrUnknownLocale = errors.New("unknown locale")

// Tag is a BCP-47 locale tag as used by the client UI
type Tag string

const (
	Korean   Tag = "ko-KR"
	English  Tag = "en-US"
	Japanese Tag = "ja-JP"
)

// Default is the locale used when nothing else is configured
const Default = Korean

type entry struct {
	tag   Tag
	stt   string // upstream STT language code
	voice string // default synthesis voice
}

// ordered; the language selector cycles through this list
var table = []entry{
	{tag: Korean, stt: "Kor", voice: "ko-KR-Neural2-B"},
	{tag: English, stt: "Eng", voice: "en-US-Neural2-C"},
	{tag: Japanese, stt: "Jpn", voice: "ja-JP-Neural2-B"},
}

// Supported returns every supported locale tag
func Supported() []Tag {
	tags := make([]Tag, len(table))
	for i, e := range table {
		tags[i] = e.tag
	}
	return tags
}

// Language returns the primary language subtag ("ko" for "ko-KR")
func (t Tag) Language() string {
	lang, _, _ := strings.Cut(string(t), "-")
	return strings.ToLower(lang)
}

func (t Tag) String() string {
	return string(t)
}

// Parse accepts a full tag, a bare language ("en") or an STT code ("Eng")
// and returns the supported tag it refers to.
func Parse(s string) (Tag, error) {
	e, ok := lookup(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLocale, s)
	}
	return e.tag, nil
}

// STTCode maps a client tag, bare language or upstream code to the upstream
// STT language code. Unknown values are rejected rather than defaulted.
func STTCode(s string) (string, error) {
	e, ok := lookup(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLocale, s)
	}
	return e.stt, nil
}

// Voice picks the synthesis voice by language prefix, falling back to the
// default locale's voice.
func Voice(t Tag) string {
	if e, ok := lookup(t.Language()); ok {
		return e.voice
	}
	return table[0].voice
}

// Next returns the locale after t in the selector order
func Next(t Tag) Tag {
	for i, e := range table {
		if e.tag == t {
			return table[(i+1)%len(table)].tag
		}
	}
	return Default
}

func lookup(s string) (entry, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return entry{}, false
	}
	// "ko_KR" and "ko-kr" are both seen in the wild
	norm := strings.ToLower(strings.ReplaceAll(s, "_", "-"))
	lang, _, _ := strings.Cut(norm, "-")

	for _, e := range table {
		switch {
		case strings.ToLower(string(e.tag)) == norm:
			return e, true
		case strings.ToLower(e.stt) == norm:
			return e, true
		case e.tag.Language() == lang:
			return e, true
		}
	}
	return entry{}, false
}
