package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/audio"
	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/resilience"
)

// liveConn is the part of the Deepgram websocket client the recognizer uses
type liveConn interface {
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveConn, error)

// DeepgramOptions configures a DeepgramRecognizer
type DeepgramOptions struct {
	APIKey     string
	Model      string
	SampleRate int
	Source     audio.Source
	VAD        *audio.VADConfig
	Reconnect  *resilience.ReconnectConfig
	Logger     *zerolog.Logger
}

// DeepgramRecognizer streams microphone audio to Deepgram's live API and
// reports transcripts as session events. Sustained silence after speech
// ends the session.
type DeepgramRecognizer struct {
	opts   DeepgramOptions
	dial   dialFunc
	logger zerolog.Logger

	mu     sync.Mutex
	active *liveSession
}

// liveSession is one started stream. closed guards the Closed event and
// ended is guarded by the recognizer's mu.
type liveSession struct {
	conn   liveConn
	cancel context.CancelFunc
	sink   Sink
	closed sync.Once
	ended  bool
}

// NewDeepgramRecognizer creates a recognizer capturing from opts.Source
func NewDeepgramRecognizer(opts DeepgramOptions) *DeepgramRecognizer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.VAD == nil {
		opts.VAD = &audio.VADConfig{
			EnergyThreshold: audio.DefaultVADConfig().EnergyThreshold,
			SilenceFrames:   audio.DefaultVADConfig().SilenceFrames,
			FrameSize:       audio.FrameSizeFor(opts.SampleRate),
		}
	}
	r := &DeepgramRecognizer{opts: opts}
	if opts.Logger != nil {
		r.logger = *opts.Logger
	} else {
		r.logger = observability.GetLogger()
	}
	r.dial = r.dialDeepgram
	return r
}

func (r *DeepgramRecognizer) dialDeepgram(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveConn, error) {
	client, err := listenClient.NewWSUsingCallback(ctx, r.opts.APIKey, nil, opts, cb)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, resilience.NewRetryableError(errors.New("failed to connect to Deepgram"))
	}
	return client, nil
}

// Start connects to Deepgram and begins streaming the microphone
func (r *DeepgramRecognizer) Start(ctx context.Context, tag locale.Tag, sink Sink) error {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return errors.New("deepgram recognizer is already active")
	}
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	session := &liveSession{cancel: cancel, sink: sink}
	callback := &liveCallback{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		sink:                   sink,
		onClose:                func() { r.remoteClosed(session) },
	}

	options := &interfaces.LiveTranscriptionOptions{
		Model:          r.opts.Model,
		Language:       tag.Language(),
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     r.opts.SampleRate,
	}

	var conn liveConn
	err := resilience.Reconnect(runCtx, "deepgram", func() error {
		c, err := r.dial(runCtx, options, callback)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, r.opts.Reconnect)
	if err != nil {
		cancel()
		return err
	}

	if err := r.opts.Source.Open(); err != nil {
		conn.Finish()
		cancel()
		return fmt.Errorf("open microphone: %w", err)
	}

	r.mu.Lock()
	if session.ended {
		r.mu.Unlock()
		r.release(session)
		conn.Finish()
		return errors.New("deepgram closed the stream before it started")
	}
	session.conn = conn
	r.active = session
	r.mu.Unlock()

	r.logger.Info().Str("model", r.opts.Model).Str("language", tag.Language()).Msg("Deepgram streaming started")
	sink(Opened{})

	go r.pump(runCtx, session)
	return nil
}

// pump feeds captured audio to Deepgram until the context ends or the
// speaker falls silent
func (r *DeepgramRecognizer) pump(ctx context.Context, s *liveSession) {
	vad := audio.NewVADDetector(r.opts.VAD)
	frames := audio.NewFrameBuffer(r.opts.SampleRate*2, r.opts.VAD.FrameSize)

	for ctx.Err() == nil {
		samples, err := r.opts.Source.Read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn().Err(err).Msg("Microphone read failed")
			s.sink(Failure{Code: "audio-capture"})
			r.end(s)
			return
		}
		frames.Write(samples)

		for {
			frame, ok := frames.Next()
			if !ok {
				break
			}
			_, _, ended := vad.ProcessFrame(frame)
			if _, err := s.conn.Write(audio.EncodePCM16(frame)); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Msg("Failed to send audio to Deepgram")
				s.sink(Failure{Code: "network"})
				r.end(s)
				return
			}
			if ended {
				r.logger.Debug().Int("buffered_samples", frames.Available()).Msg("Silence detected, ending dictation")
				r.end(s)
				return
			}
		}
	}
}

// Stop finishes the stream. Closed is reported exactly once per session.
func (r *DeepgramRecognizer) Stop() error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	if s != nil {
		r.end(s)
	}
	return nil
}

// detach clears s as the active session. It reports false when s already
// ended.
func (r *DeepgramRecognizer) detach(s *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ended = true
	if r.active != s {
		return false
	}
	r.active = nil
	return true
}

// release stops the capture side of s
func (r *DeepgramRecognizer) release(s *liveSession) {
	s.cancel()
	if err := r.opts.Source.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("Error closing microphone")
	}
}

func (r *DeepgramRecognizer) end(s *liveSession) {
	if !r.detach(s) {
		return
	}
	r.release(s)

	finished := make(chan struct{})
	go func() {
		s.conn.Finish()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		r.logger.Warn().Msg("Deepgram did not finish in time")
	}

	s.closed.Do(func() { s.sink(Closed{}) })
	r.logger.Info().Msg("Deepgram streaming stopped")
}

// remoteClosed handles the server closing the socket. The engine is free
// for a new session by the time Closed is reported.
func (r *DeepgramRecognizer) remoteClosed(s *liveSession) {
	if r.detach(s) {
		r.release(s)
		go s.conn.Finish()
		r.logger.Info().Msg("Deepgram closed the stream")
	}
	s.closed.Do(func() { s.sink(Closed{}) })
}

// liveCallback maps Deepgram callbacks to session events
type liveCallback struct {
	*websocketv1api.DefaultCallbackHandler
	sink    Sink
	onClose func()
}

func (c *liveCallback) Open(*msginterfaces.OpenResponse) error {
	c.sink(Opened{})
	return nil
}

func (c *liveCallback) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := msg.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	// segments arrive without separators
	c.sink(Result{Slots: []Slot{{Transcript: " " + transcript, Final: msg.IsFinal}}})
	return nil
}

func (c *liveCallback) Error(er *msginterfaces.ErrorResponse) error {
	code := "unknown"
	if er != nil && er.ErrCode != "" {
		code = er.ErrCode
	}
	c.sink(Failure{Code: code})
	return nil
}

func (c *liveCallback) Close(*msginterfaces.CloseResponse) error {
	c.onClose()
	return nil
}
