package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/audio"
	"github.com/lexiqai/chat-gateway/internal/chat"
	"github.com/lexiqai/chat-gateway/internal/config"
	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/resilience"
	"github.com/lexiqai/chat-gateway/internal/speech"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

const usage = `Commands:
  <text>          send a message (an empty line sends the dictated input)
  /reset          clear the conversation history
  /mic start|stop live dictation into the input
  /rec <seconds>  record a clip and transcribe it into the input
  /stt <file>     transcribe an audio file into the input
  /read           read the last answer aloud
  /lang           switch language
  /quit           exit`

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLoggerTo(os.Stderr, cfg.LogLevel, true)
	logger := observability.GetLogger()

	prefsPath := cfg.PrefsPath
	if prefsPath == "" {
		if prefsPath, err = locale.DefaultPrefsPath(); err != nil {
			logger.Warn().Err(err).Msg("Preferences will not be saved")
		}
	}
	tag := locale.Default
	if prefsPath != "" {
		prefs, err := locale.LoadPreferences(prefsPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", prefsPath).Msg("Failed to load preferences")
		}
		tag = prefs.Locale
	}
	if cfg.Locale != "" {
		if t, err := locale.Parse(cfg.Locale); err == nil {
			tag = t
		} else {
			logger.Warn().Err(err).Msg("Ignoring CHAT_LOCALE")
		}
	}

	micAvailable := false
	if err := audio.Init(); err != nil {
		logger.Warn().Err(err).Msg("Audio input unavailable")
	} else {
		defer audio.Terminate()
		micAvailable = audio.HasInputDevice()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newApp(cfg, tag, prefsPath, micAvailable, os.Stdout, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start chat client")
	}
	defer client.close()

	fmt.Fprintln(os.Stdout, usage)
	client.run(ctx, os.Stdin)
}

// app wires the controllers to the terminal
type app struct {
	cfg       *config.ClientConfig
	prefsPath string
	logger    zerolog.Logger

	client   *chat.GatewayClient
	term     *terminal
	input    *speech.TextInput
	conv     *chat.Conversation
	playback *chat.Playback
	session  *speech.Session
	player   *audio.ExecPlayer
	mic      *audio.Microphone

	// set while /rec holds the microphone
	recording atomic.Bool

	mu  sync.Mutex
	tag locale.Tag
	wg  sync.WaitGroup
}

func newApp(cfg *config.ClientConfig, tag locale.Tag, prefsPath string, micAvailable bool, out io.Writer, logger *zerolog.Logger) (*app, error) {
	player, err := audio.NewExecPlayer(cfg.PlayerCommand)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		prefsPath: prefsPath,
		logger:    *logger,
		client:    chat.NewGatewayClient(cfg.GatewayURL),
		term:      &terminal{out: out},
		input:     &speech.TextInput{},
		player:    player,
		tag:       tag,
	}
	if micAvailable {
		a.mic = audio.NewMicrophone(cfg.SampleRate)
	}

	a.conv = chat.NewConversation(a.client, a.term, a.input, chat.ConversationOptions{
		Locale:  tag,
		Timeout: cfg.ChatDeadline(),
		Logger:  logger,
	})
	a.playback = chat.NewPlayback(a.client, player, a.conv, logger)

	var engine speech.Recognizer = unavailableEngine{}
	if micAvailable && cfg.DeepgramAPIKey != "" {
		engine = speech.NewDeepgramRecognizer(speech.DeepgramOptions{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			SampleRate: cfg.SampleRate,
			Source:     a.mic,
			VAD: &audio.VADConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				SilenceFrames:   cfg.VADSilenceFrames,
				FrameSize:       audio.FrameSizeFor(cfg.SampleRate),
			},
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
				Multiplier:  2.0,
				MaxBackoff:  5 * time.Second,
			},
			Logger: logger,
		})
	}
	a.session = speech.NewSession(engine, echoInput{a.input, a.term}, a.conv, speech.SessionOptions{
		Environment: speech.Environment{
			SupportsRecognition: micAvailable && cfg.DeepgramAPIKey != "",
			SecureContext:       speech.IsSecureOrigin(cfg.GatewayURL),
		},
		Controls: a.term,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) locale() locale.Tag {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tag
}

func (a *app) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !a.handle(ctx, line) {
				return
			}
		}
	}
}

// handle runs one input line and reports whether the loop should continue
func (a *app) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(a.term.out, usage)
	case "/reset":
		if err := a.conv.Reset(ctx); err != nil {
			a.logger.Debug().Err(err).Msg("Reset failed")
		}
	case "/mic":
		a.dictate(ctx, arg)
	case "/rec":
		a.background(func() { a.record(ctx, arg) })
	case "/stt":
		a.background(func() { a.transcribeFile(ctx, arg) })
	case "/read":
		a.background(func() { a.readAloud(ctx) })
	case "/lang":
		a.switchLocale()
	default:
		text := strings.TrimSpace(line)
		if text == "" {
			text = a.input.Value()
		}
		a.background(func() {
			if err := a.conv.Submit(ctx, text); errors.Is(err, chat.ErrBusy) {
				a.term.Notify(locale.Text(a.locale(), locale.Typing), false)
			}
		})
	}
	return true
}

func (a *app) background(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *app) dictate(ctx context.Context, arg string) {
	switch arg {
	case "", "start":
		if a.recording.Load() {
			a.conv.Notify(locale.Text(a.locale(), locale.MicrophoneBusy), true)
			return
		}
		if err := a.session.Start(ctx, a.locale()); err != nil {
			a.logger.Debug().Err(err).Msg("Dictation unavailable")
		}
	case "stop":
		if err := a.session.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to stop dictation")
		}
	default:
		fmt.Fprintln(a.term.out, usage)
	}
}

func (a *app) record(ctx context.Context, arg string) {
	tag := a.locale()
	if a.mic == nil {
		a.conv.Notify(locale.Text(tag, locale.RecognitionUnsupported), true)
		return
	}
	if a.session.State().Phase != speech.Stopped || !a.recording.CompareAndSwap(false, true) {
		a.conv.Notify(locale.Text(tag, locale.MicrophoneBusy), true)
		return
	}
	defer a.recording.Store(false)
	seconds, err := strconv.Atoi(arg)
	if err != nil || seconds <= 0 || seconds > 60 {
		seconds = 5
	}

	a.conv.Notify(locale.Text(tag, locale.RecognitionListening), false)
	samples, err := audio.Record(ctx, a.mic, time.Duration(seconds)*time.Second)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Recording failed")
		a.conv.Notify(locale.Text(tag, locale.TranscriptionFailed), true)
		return
	}
	if audio.DetectSilence(samples, a.cfg.VADEnergyThreshold) {
		a.conv.Notify(locale.Text(tag, locale.NothingRecorded), true)
		return
	}
	wav, err := audio.EncodeWAV(samples, a.mic.SampleRate())
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to encode recording")
		a.conv.Notify(locale.Text(tag, locale.TranscriptionFailed), true)
		return
	}
	a.transcribe(ctx, upstream.AudioUpload{Filename: "recording.wav", Data: wav}, tag)
}

func (a *app) transcribeFile(ctx context.Context, path string) {
	tag := a.locale()
	upload, err := loadClip(path, a.cfg.SampleRate)
	if err != nil {
		a.conv.Notify(fmt.Sprintf("%s: %v", locale.Text(tag, locale.TranscriptionFailed), err), true)
		return
	}
	a.transcribe(ctx, upload, tag)
}

// loadClip reads an audio file for upload. Headerless 16-bit PCM (.pcm, .raw)
// is wrapped in a WAV container at sampleRate.
func loadClip(path string, sampleRate int) (upstream.AudioUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return upstream.AudioUpload{}, err
	}
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pcm", ".raw":
		data, err = audio.EncodeWAV(audio.DecodePCM16(data), sampleRate)
		if err != nil {
			return upstream.AudioUpload{}, err
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".wav"
	}
	return upstream.AudioUpload{Filename: name, Data: data}, nil
}

func (a *app) transcribe(ctx context.Context, upload upstream.AudioUpload, tag locale.Tag) {
	text, err := chat.TranscribeClip(ctx, a.client, upload, tag)
	if err != nil {
		a.conv.Notify(err.Error(), true)
		return
	}
	a.input.SetValue(chat.AppendTranscript(a.input.Value(), text))
	a.term.ShowInput(a.input.Value())
}

func (a *app) readAloud(ctx context.Context) {
	answer, _ := a.conv.LastAnswer()
	if _, err := a.playback.ReadAloud(ctx, answer, a.locale()); err != nil {
		a.logger.Debug().Err(err).Msg("Read aloud failed")
	}
}

func (a *app) switchLocale() {
	a.mu.Lock()
	a.tag = locale.Next(a.tag)
	tag := a.tag
	a.mu.Unlock()

	a.conv.SetLocale(tag)
	fmt.Fprintf(a.term.out, "language: %s %v\n", tag, locale.Supported())
	if a.prefsPath == "" {
		return
	}
	if err := locale.SavePreferences(a.prefsPath, locale.Preferences{Locale: tag}); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save preferences")
	}
}

func (a *app) close() {
	_ = a.session.Stop()
	a.wg.Wait()
	a.player.Stop()
}

// echoInput shows dictation progress as the input changes
type echoInput struct {
	*speech.TextInput
	term *terminal
}

func (e echoInput) SetValue(s string) {
	e.TextInput.SetValue(s)
	e.term.ShowInput(s)
}

// unavailableEngine stands in when live recognition is not configured
type unavailableEngine struct{}

func (unavailableEngine) Start(context.Context, locale.Tag, speech.Sink) error {
	return speech.ErrUnsupported
}

func (unavailableEngine) Stop() error { return nil }

// terminal renders the conversation as lines of text
type terminal struct {
	out io.Writer

	mu        sync.Mutex
	shown     int
	cleared   bool
	typing    bool
	listening bool
}

// Cleared makes the next Render start a new screen
func (t *terminal) Cleared() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleared = true
}

func (t *terminal) Render(messages []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	visible := make([]chat.Message, 0, len(messages))
	pending := false
	for _, m := range messages {
		if m.Pending() {
			pending = true
			continue
		}
		visible = append(visible, m)
	}

	if t.cleared || len(visible) < t.shown {
		fmt.Fprintln(t.out, "----")
		t.shown = 0
		t.cleared = false
	}
	for _, m := range visible[t.shown:] {
		t.printMessage(m)
	}
	t.shown = len(visible)

	if pending && !t.typing {
		for _, m := range messages {
			if m.Pending() {
				fmt.Fprintf(t.out, "  %s\n", m.Content)
			}
		}
	}
	t.typing = pending
}

func (t *terminal) printMessage(m chat.Message) {
	switch m.Role {
	case chat.RoleUser:
		fmt.Fprintf(t.out, "you> %s\n", m.Content)
	case chat.RoleAssistant:
		prefix := "bot> "
		if m.Error {
			prefix = "bot! "
		}
		fmt.Fprintf(t.out, "%s%s\n", prefix, chat.PlainText(m.Content))
	default:
		prefix := "-- "
		if m.Error {
			prefix = "!! "
		}
		fmt.Fprintf(t.out, "%s%s\n", prefix, m.Content)
	}
}

func (t *terminal) SetSendEnabled(enabled bool) {}

func (t *terminal) SetListening(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listening = active
}

// Notify prints a transient line that is not kept in the history
func (t *terminal) Notify(text string, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isError {
		fmt.Fprintf(t.out, "!! %s\n", text)
		return
	}
	fmt.Fprintf(t.out, "-- %s\n", text)
}

// ShowInput echoes the current input buffer
func (t *terminal) ShowInput(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	marker := "input"
	if t.listening {
		marker = "mic"
	}
	fmt.Fprintf(t.out, "[%s] %s\n", marker, value)
}
