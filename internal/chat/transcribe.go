package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

// TranscriptionAPI is the gateway's speech-to-text route
type TranscriptionAPI interface {
	Transcribe(ctx context.Context, upload upstream.AudioUpload, lang string) (Reply, error)
}

// Transcript is the upstream STT answer
type Transcript struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// TranscribeClip uploads a recorded clip in the language of tag and returns
// the recognized text. Returned errors carry a localized, displayable message.
func TranscribeClip(ctx context.Context, api TranscriptionAPI, upload upstream.AudioUpload, tag locale.Tag) (string, error) {
	lang, err := locale.STTCode(string(tag))
	if err != nil {
		return "", err
	}

	res, err := api.Transcribe(ctx, upload, lang)
	if err != nil {
		return "", errors.New(locale.Text(tag, locale.GatewayUnreachable))
	}
	if !res.OK() {
		if res.Status == http.StatusBadGateway {
			return "", errors.New(locale.Text(tag, locale.GatewayUnreachable))
		}
		if msg := ErrorText(res.Body); msg != "" {
			return "", errors.New(msg)
		}
		return "", errors.New(locale.Text(tag, locale.TranscriptionFailed))
	}

	var t Transcript
	if err := json.Unmarshal(res.Body, &t); err != nil {
		return "", errors.New(locale.Text(tag, locale.TranscriptionFailed))
	}
	return strings.TrimSpace(t.Text), nil
}

// AppendTranscript adds text to the end of the current input
func AppendTranscript(current, text string) string {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return current
	case strings.TrimSpace(current) == "":
		return text
	}
	return strings.TrimRight(current, " ") + " " + text
}
