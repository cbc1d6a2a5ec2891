package upstream

import (
	"encoding/json"
	"unicode/utf8"
)

// MaxSynthesisRunes bounds the text sent for speech synthesis
const MaxSynthesisRunes = 1000

// AudioField is the multipart part name the upstream STT endpoint reads
const AudioField = "audio_file"

// Operation identifies one of the upstream capabilities
type Operation string

const (
	OpChat  Operation = "chat"
	OpReset Operation = "reset"
	OpSTT   Operation = "stt"
	OpTTS   Operation = "tts"
)

// Path returns the upstream path serving the operation
func (o Operation) Path() string {
	switch o {
	case OpChat:
		return "/chat"
	case OpReset:
		return "/reset"
	case OpSTT:
		return "/api/stt"
	case OpTTS:
		return "/api/tts"
	}
	return ""
}

// Kind tags an Outcome
type Kind int

const (
	// OK means the upstream answered with a 2xx status
	OK Kind = iota
	// UpstreamFailure means the upstream answered with a non-2xx status
	UpstreamFailure
	// Unreachable means no response was obtained: dial, DNS, timeout or I/O failure
	Unreachable
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case UpstreamFailure:
		return "upstream_failure"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Outcome is the normalized result of one upstream call
type Outcome struct {
	Kind        Kind
	Status      int
	ContentType string
	Disposition string // TTS only
	Body        []byte
	Reason      string // Unreachable only
}

// ChatRequest is one chat turn
type ChatRequest struct {
	Message   string `json:"message"`
	Lang      string `json:"lang,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Extra holds fields the browser sent beyond the ones above
	Extra map[string]json.RawMessage `json:"-"`
}

// SynthesisRequest asks the upstream for speech audio
type SynthesisRequest struct {
	Text   string   `json:"text"`
	Lang   string   `json:"lang,omitempty"`
	Voice  string   `json:"voice,omitempty"`
	Format string   `json:"fmt,omitempty"` // MP3, OGG_OPUS or LINEAR16
	Rate   *float64 `json:"rate,omitempty"`
	Pitch  *float64 `json:"pitch,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Float returns a pointer to v for the optional synthesis fields
func Float(v float64) *float64 { return &v }

// AudioUpload is a recorded clip to transcribe
type AudioUpload struct {
	Filename string
	Data     []byte
}

// TruncateRunes cuts s to at most max runes without splitting a character
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
