package speech

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/observability"
)

var (
	// ErrUnsupported means the host cannot run live recognition
	ErrUnsupported = errors.New("live speech recognition is not supported")
	// ErrInsecureContext means recognition was requested over an insecure connection
	ErrInsecureContext = errors.New("live speech recognition requires a secure context")
)

// Sink receives engine events. It may be called from any goroutine.
type Sink func(Event)

// Recognizer is a live recognition engine. Start begins listening and
// reports Opened, Result, Failure and Closed through sink; Stop asks the
// engine to finish, after which it reports Closed.
type Recognizer interface {
	Start(ctx context.Context, tag locale.Tag, sink Sink) error
	Stop() error
}

// InputBuffer is the text field dictation writes into
type InputBuffer interface {
	Value() string
	SetValue(s string)
	SetCursor(pos int)
}

// Notifier shows status lines
type Notifier interface {
	Notify(text string, isError bool)
}

// Controls reflects whether dictation is active
type Controls interface {
	SetListening(active bool)
}

// Environment describes what the host allows
type Environment struct {
	SupportsRecognition bool
	SecureContext       bool
}

// IsSecureOrigin reports whether the gateway URL is https or a loopback host
func IsSecureOrigin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Session is the single dictation session of a client
type Session struct {
	engine   Recognizer
	env      Environment
	input    InputBuffer
	notify   Notifier
	controls Controls
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
}

// SessionOptions configures a Session
type SessionOptions struct {
	Environment Environment
	Controls    Controls
	Logger      *zerolog.Logger
}

// NewSession creates a stopped session
func NewSession(engine Recognizer, input InputBuffer, notify Notifier, opts SessionOptions) *Session {
	s := &Session{
		engine:   engine,
		env:      opts.Environment,
		input:    input,
		notify:   notify,
		controls: opts.Controls,
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	} else {
		s.logger = observability.GetLogger()
	}
	return s
}

// State returns a copy of the session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins dictation in tag. Starting while a session exists is a no-op.
func (s *Session) Start(ctx context.Context, tag locale.Tag) error {
	s.mu.Lock()
	if s.state.Phase != Stopped {
		s.mu.Unlock()
		return nil
	}
	if !s.env.SupportsRecognition {
		s.mu.Unlock()
		s.notify.Notify(locale.Text(tag, locale.RecognitionUnsupported), true)
		return ErrUnsupported
	}
	if !s.env.SecureContext {
		s.mu.Unlock()
		s.notify.Notify(locale.Text(tag, locale.InsecureContext), true)
		return ErrInsecureContext
	}
	s.state, _ = Reduce(s.state, Requested{Locale: tag})
	s.mu.Unlock()

	if err := s.engine.Start(ctx, tag, s.Dispatch); err != nil {
		s.logger.Warn().Err(err).Str("locale", string(tag)).Msg("Recognizer failed to start")
		s.Dispatch(Failure{Code: err.Error()})
		s.Dispatch(Closed{})
		return err
	}
	return nil
}

// Stop ends dictation. Stopping while not running is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	running := s.state.Phase == Running
	s.mu.Unlock()

	if !running {
		return nil
	}
	return s.engine.Stop()
}

// Dispatch applies an engine event. Effects are applied while the session
// is locked, so the input buffer, notifier and controls must not call back
// into the session.
func (s *Session) Dispatch(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := ev.(Opened); ok {
		ev = Opened{Input: s.input.Value()}
	}

	tag := s.state.Locale
	next, eff := Reduce(s.state, ev)
	s.state = next

	if eff.SetInput {
		s.input.SetValue(eff.Input)
		s.input.SetCursor(utf8.RuneCountInString(eff.Input))
	}
	if eff.Notice {
		text := locale.Text(tag, eff.Message)
		if eff.Detail != "" {
			text += ": " + eff.Detail
		}
		s.notify.Notify(text, eff.IsError)
	}
	if s.controls != nil {
		if eff.Listening {
			s.controls.SetListening(true)
		}
		if eff.Ended {
			s.controls.SetListening(false)
		}
	}
}
