// Package speech turns a live recognition engine's callbacks into edits of
// the chat input buffer.
package speech

import (
	"strings"

	"github.com/lexiqai/chat-gateway/internal/locale"
)

// Phase is the lifecycle position of the speech session
type Phase int

const (
	Stopped Phase = iota
	Starting
	Running
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return "stopped"
}

// State is the single speech session
type State struct {
	Phase     Phase
	BaseText  string // input content when the session opened
	FinalText string // confirmed transcript, only ever appended to
	Interim   string // provisional transcript of the latest result event
	Locale    locale.Tag
}

// Event is something the recognition engine or the user did
type Event interface {
	isEvent()
}

// Requested asks for a session in the given locale
type Requested struct {
	Locale locale.Tag
}

// Opened reports that the engine began listening. Input is the content of
// the input buffer at that moment.
type Opened struct {
	Input string
}

// Slot is one recognized segment
type Slot struct {
	Transcript string
	Final      bool
}

// Result carries the engine's result list; slots before Index are unchanged
// since the previous event and are skipped.
type Result struct {
	Index int
	Slots []Slot
}

// Failure is an engine-reported error
type Failure struct {
	Code string
}

// Closed reports that the engine stopped listening
type Closed struct{}

func (Requested) isEvent() {}
func (Opened) isEvent() {}
func (Result) isEvent() {}
func (Failure) isEvent() {}
func (Closed) isEvent() {}

// Effect is what the controller must do after a transition
type Effect struct {
	// SetInput asks for Input to replace the input buffer, cursor at the end
	SetInput bool
	Input    string

	// Notice asks for a localized status line
	Notice  bool
	Message locale.Key
	Detail  string
	IsError bool

	// Listening and Ended drive the start and stop affordances
	Listening bool
	Ended     bool
}

// Reduce applies ev to s. It never mutates s.
func Reduce(s State, ev Event) (State, Effect) {
	switch ev := ev.(type) {
	case Requested:
		if s.Phase != Stopped {
			return s, Effect{}
		}
		return State{Phase: Starting, Locale: ev.Locale}, Effect{}

	case Opened:
		if s.Phase != Starting {
			return s, Effect{}
		}
		s.Phase = Running
		s.BaseText = ev.Input
		s.FinalText = ""
		s.Interim = ""
		return s, Effect{Notice: true, Message: locale.RecognitionListening, Listening: true}

	case Result:
		if s.Phase != Running {
			return s, Effect{}
		}
		var interim strings.Builder
		for i := ev.Index; i >= 0 && i < len(ev.Slots); i++ {
			slot := ev.Slots[i]
			if slot.Final {
				s.FinalText += slot.Transcript
			} else {
				interim.WriteString(slot.Transcript)
			}
		}
		s.Interim = interim.String()
		return s, Effect{SetInput: true, Input: Compose(s)}

	case Failure:
		return s, Effect{Notice: true, Message: locale.RecognitionError, Detail: ev.Code, IsError: true}

	case Closed:
		if s.Phase == Stopped {
			return s, Effect{}
		}
		return State{}, Effect{Notice: true, Message: locale.RecognitionFinished, Ended: true}
	}
	return s, Effect{}
}

// Compose builds the visible input value for s
func Compose(s State) string {
	spoken := strings.TrimSpace(s.FinalText + s.Interim)
	if s.BaseText == "" {
		return spoken
	}
	return s.BaseText + " " + spoken
}
