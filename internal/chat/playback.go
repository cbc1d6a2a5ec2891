package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

const (
	synthesisFormat = "MP3"
	defaultRate     = 1.0
	defaultPitch    = 0.0
)

// SynthesisAPI is the part of the gateway playback talks to
type SynthesisAPI interface {
	Synthesize(ctx context.Context, req upstream.SynthesisRequest) (Reply, error)
}

// Player plays encoded audio, replacing whatever is currently playing
type Player interface {
	Play(ctx context.Context, audio []byte, contentType string) error
}

// Notifier shows status and error lines to the user
type Notifier interface {
	Notify(text string, isError bool)
}

// SynthesisResult is either audio to play or an error to show.
// Exactly one of Audio and Error is set.
type SynthesisResult struct {
	Audio *AudioPayload
	Error *ErrorPayload
}

// AudioPayload is playable audio returned by the gateway
type AudioPayload struct {
	ContentType string
	Data        []byte
}

// ErrorPayload is the text of a failed synthesis
type ErrorPayload struct {
	Status  int
	Message string
}

// ClassifySynthesis turns a gateway reply into a SynthesisResult by its
// content type. Only audio replies with a 2xx status are playable.
func ClassifySynthesis(res Reply) SynthesisResult {
	if res.OK() && res.IsAudio() {
		return SynthesisResult{Audio: &AudioPayload{ContentType: res.ContentType, Data: res.Body}}
	}
	msg := ErrorText(res.Body)
	if msg == "" {
		msg = strings.TrimSpace(string(res.Body))
	}
	return SynthesisResult{Error: &ErrorPayload{Status: res.Status, Message: msg}}
}

// BuildSynthesisRequest prepares the synthesis request for text in tag
func BuildSynthesisRequest(text string, tag locale.Tag) upstream.SynthesisRequest {
	return upstream.SynthesisRequest{
		Text:   upstream.TruncateRunes(strings.TrimSpace(text), upstream.MaxSynthesisRunes),
		Lang:   string(tag),
		Voice:  locale.Voice(tag),
		Format: synthesisFormat,
		Rate:   upstream.Float(defaultRate),
		Pitch:  upstream.Float(defaultPitch),
	}
}

// Playback reads answers aloud through the gateway's synthesis route
type Playback struct {
	api    SynthesisAPI
	player Player
	notify Notifier
	logger zerolog.Logger
}

// NewPlayback creates a playback controller
func NewPlayback(api SynthesisAPI, player Player, notify Notifier, logger *zerolog.Logger) *Playback {
	p := &Playback{api: api, player: player, notify: notify}
	if logger != nil {
		p.logger = *logger
	} else {
		p.logger = observability.GetLogger()
	}
	return p
}

// ReadAloud synthesizes text in tag and plays it. Failures are reported
// through the notifier and returned; nothing is played unless the gateway
// answered with audio.
func (p *Playback) ReadAloud(ctx context.Context, text string, tag locale.Tag) (result SynthesisResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().Interface("panic", rec).Msg("Playback panicked")
			result = SynthesisResult{Error: &ErrorPayload{Message: locale.Text(tag, locale.PlaybackFailed)}}
			err = errors.New("playback panicked")
			p.notify.Notify(result.Error.Message, true)
		}
	}()

	req := BuildSynthesisRequest(text, tag)
	if req.Text == "" {
		msg := locale.Text(tag, locale.NothingToRead)
		p.notify.Notify(msg, true)
		return SynthesisResult{Error: &ErrorPayload{Message: msg}}, errors.New("nothing to read")
	}

	res, err := p.api.Synthesize(ctx, req)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Synthesis request failed")
		msg := locale.Text(tag, locale.GatewayUnreachable)
		p.notify.Notify(msg, true)
		return SynthesisResult{Error: &ErrorPayload{Message: msg}}, err
	}

	result = ClassifySynthesis(res)
	if result.Error != nil {
		if result.Error.Message == "" {
			result.Error.Message = locale.Text(tag, locale.PlaybackFailed)
		}
		p.notify.Notify(result.Error.Message, true)
		return result, errors.New(result.Error.Message)
	}

	if err := p.player.Play(ctx, result.Audio.Data, result.Audio.ContentType); err != nil {
		p.logger.Warn().Err(err).Msg("Audio playback failed")
		p.notify.Notify(locale.Text(tag, locale.PlaybackFailed), true)
		return result, err
	}
	return result, nil
}
