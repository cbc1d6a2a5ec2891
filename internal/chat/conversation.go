// Package chat holds the client-side conversation and playback controllers
// together with the HTTP client they use to reach the gateway.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

// ErrBusy is returned by Submit while a chat turn is in flight
var ErrBusy = errors.New("a chat turn is already in flight")

// DefaultChatTimeout bounds one chat turn on the client
const DefaultChatTimeout = 60 * time.Second

// Role is the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleStatus    Role = "status"
)

// Message is one entry of the conversation. Assistant answers carry
// sanitized HTML; everything else is plain text.
type Message struct {
	Role    Role
	Content string
	Error   bool

	pending bool
}

// Pending reports whether the message is the typing placeholder
func (m Message) Pending() bool {
	return m.pending
}

// State is the conversation's send state
type State int

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// View displays the conversation
type View interface {
	Render(messages []Message)
	SetSendEnabled(enabled bool)
}

// ClearingView is a View that redraws from scratch after a reset
type ClearingView interface {
	View
	Cleared()
}

// InputBuffer is the text field the user composes messages in
type InputBuffer interface {
	SetValue(s string)
}

// ChatAPI is the part of the gateway the conversation talks to
type ChatAPI interface {
	Chat(ctx context.Context, req upstream.ChatRequest) (Reply, error)
	Reset(ctx context.Context) (Reply, error)
}

// ConversationOptions configures a Conversation
type ConversationOptions struct {
	Locale  locale.Tag
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Conversation drives chat turns and resets and owns the message history
type Conversation struct {
	api     ChatAPI
	view    View
	input   InputBuffer
	timeout time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	state    State
	locale   locale.Tag
	messages []Message
}

// NewConversation creates a conversation seeded with the welcome message
func NewConversation(api ChatAPI, view View, input InputBuffer, opts ConversationOptions) *Conversation {
	c := &Conversation{
		api:     api,
		view:    view,
		input:   input,
		timeout: opts.Timeout,
		locale:  opts.Locale,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultChatTimeout
	}
	if c.locale == "" {
		c.locale = locale.Default
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	} else {
		c.logger = observability.GetLogger()
	}
	c.messages = []Message{c.status(locale.Welcome)}
	c.publish()
	return c
}

// SetLocale changes the language of new requests and status messages
func (c *Conversation) SetLocale(t locale.Tag) {
	c.mu.Lock()
	c.locale = t
	c.mu.Unlock()
}

// State returns the current send state
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the history
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// LastAnswer returns the plain text of the latest assistant answer
func (c *Conversation) LastAnswer() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == RoleAssistant && !m.Error && !m.pending {
			return PlainText(m.Content), true
		}
	}
	return "", false
}

// Submit sends one chat turn and blocks until it is answered, fails or
// times out. Blank text is ignored.
func (c *Conversation) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state == Sending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Sending
	lang := c.locale
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Content: locale.Text(lang, locale.Typing), pending: true},
	)
	c.mu.Unlock()

	c.input.SetValue("")
	c.view.SetSendEnabled(false)
	c.publish()

	var reply Message
	defer func() {
		c.mu.Lock()
		c.messages = withoutPlaceholder(c.messages)
		c.messages = append(c.messages, reply)
		c.state = Idle
		c.mu.Unlock()

		c.view.SetSendEnabled(true)
		c.publish()
	}()

	reply = c.turn(ctx, text, lang)
	return nil
}

func (c *Conversation) turn(ctx context.Context, text string, lang locale.Tag) Message {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.api.Chat(ctx, upstream.ChatRequest{Message: text, Lang: string(lang)})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Chat turn failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return failure(locale.Text(lang, locale.ChatTimeout))
		}
		return failure(locale.Text(lang, locale.GatewayUnreachable))
	}

	if !res.OK() {
		c.logger.Debug().Int("status", res.Status).Msg("Chat turn rejected")
		if res.Status == http.StatusBadGateway {
			return failure(locale.Text(lang, locale.GatewayUnreachable))
		}
		if msg := ErrorText(res.Body); msg != "" {
			return failure(msg)
		}
		return failure(locale.Text(lang, locale.ChatFailed))
	}

	var answer struct {
		Answer string `json:"answer"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(res.Body, &answer); err != nil {
		return failure(locale.Text(lang, locale.ChatFailed))
	}
	if answer.Answer == "" {
		if answer.Error != "" {
			return failure(answer.Error)
		}
		return failure(locale.Text(lang, locale.ChatFailed))
	}
	return Message{Role: RoleAssistant, Content: RenderAnswer(answer.Answer)}
}

// Reset clears the history on the server. On success the local history is
// replaced by the welcome and cleared notices; on failure it is kept and a
// failure notice is appended.
func (c *Conversation) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.api.Reset(ctx)
	if err == nil && !res.OK() {
		err = &ResetError{Status: res.Status, Message: ErrorText(res.Body)}
	}

	c.mu.Lock()
	if err != nil {
		c.messages = append(c.messages, c.status(locale.ResetFailed))
	} else {
		c.messages = []Message{c.status(locale.Welcome), c.status(locale.HistoryCleared)}
		if c.state == Sending {
			c.messages = append(c.messages, Message{Role: RoleAssistant, Content: locale.Text(c.locale, locale.Typing), pending: true})
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Msg("Reset failed")
	} else if cv, ok := c.view.(ClearingView); ok {
		cv.Cleared()
	}
	c.publish()
	return err
}

// ResetError reports a reset the gateway refused
type ResetError struct {
	Status  int
	Message string
}

func (e *ResetError) Error() string {
	if e.Message != "" {
		return "reset failed: " + e.Message
	}
	return "reset failed with status " + http.StatusText(e.Status)
}

// Notify appends a status line
func (c *Conversation) Notify(text string, isError bool) {
	c.mu.Lock()
	c.messages = append(c.messages, Message{Role: RoleStatus, Content: text, Error: isError})
	c.mu.Unlock()
	c.publish()
}

// status must be called with mu held or before the conversation is shared
func (c *Conversation) status(key locale.Key) Message {
	return Message{Role: RoleStatus, Content: locale.Text(c.locale, key)}
}

func (c *Conversation) publish() {
	c.view.Render(c.Messages())
}

func failure(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Error: true}
}

func withoutPlaceholder(messages []Message) []Message {
	out := messages[:0]
	for _, m := range messages {
		if !m.pending {
			out = append(out, m)
		}
	}
	return out
}
