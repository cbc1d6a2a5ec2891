// Package gateway exposes the browser-facing API and relays every call to
// the upstream chat service through the transport adapter.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

const (
	maxJSONBodyBytes = 1 << 20
	defaultMaxUpload = 25 << 20
)

var errUploadTooLarge = errors.New("upload exceeds the size limit")

// Upstream is the transport adapter the endpoints delegate to
type Upstream interface {
	Chat(ctx context.Context, req upstream.ChatRequest) upstream.Outcome
	Reset(ctx context.Context) upstream.Outcome
	Transcribe(ctx context.Context, upload upstream.AudioUpload, lang string) (upstream.Outcome, error)
	Synthesize(ctx context.Context, req upstream.SynthesisRequest) upstream.Outcome
}

// Options configures the endpoint set
type Options struct {
	DefaultSTTLang string
	MaxUploadBytes int64
	Logger         *zerolog.Logger
}

// Handler serves /api/chat, /api/reset, /api/stt and /api/tts
type Handler struct {
	upstream       Upstream
	defaultSTTLang string
	maxUpload      int64
	logger         zerolog.Logger
}

// New creates the endpoint set
func New(up Upstream, opts Options) *Handler {
	h := &Handler{
		upstream:       up,
		defaultSTTLang: opts.DefaultSTTLang,
		maxUpload:      opts.MaxUploadBytes,
	}
	if h.defaultSTTLang == "" {
		h.defaultSTTLang = "Kor"
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	if opts.Logger != nil {
		h.logger = *opts.Logger
	} else {
		h.logger = observability.GetLogger()
	}
	return h
}

// Register mounts the endpoints on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.wrap(upstream.OpChat, h.handleChat))
	mux.HandleFunc("POST /api/reset", h.wrap(upstream.OpReset, h.handleReset))
	mux.HandleFunc("POST /api/stt", h.wrap(upstream.OpSTT, h.handleSTT))
	mux.HandleFunc("POST /api/tts", h.wrap(upstream.OpTTS, h.handleTTS))
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request, x *exchange) {
	var req upstream.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		x.localError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	x.relay(w, h.upstream.Chat(r.Context(), req))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request, x *exchange) {
	x.relay(w, h.upstream.Reset(r.Context()))
}

func (h *Handler) handleSTT(w http.ResponseWriter, r *http.Request, x *exchange) {
	lang := h.defaultSTTLang
	if raw := r.URL.Query().Get("lang"); raw != "" {
		code, err := locale.STTCode(raw)
		if err != nil {
			x.localError(w, http.StatusBadRequest, fmt.Sprintf("unsupported lang %q", raw), err)
			return
		}
		lang = code
	}

	upload, err := h.readAudio(w, r)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, errUploadTooLarge):
		x.localError(w, http.StatusRequestEntityTooLarge, upstream.AudioField+" is too large", err)
		return
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		x.localError(w, http.StatusBadRequest, upstream.AudioField+" is required", err)
		return
	case err != nil:
		x.localError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	x.metrics.RecordAudioBytes("in", len(upload.Data))

	out, err := h.upstream.Transcribe(r.Context(), upload, lang)
	if err != nil {
		x.localError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	x.relay(w, out)
}

func (h *Handler) readAudio(w http.ResponseWriter, r *http.Request) (upstream.AudioUpload, error) {
	if r.ContentLength > h.maxUpload {
		return upstream.AudioUpload{}, errUploadTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return upstream.AudioUpload{}, err
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(upstream.AudioField)
	if err != nil {
		return upstream.AudioUpload{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upstream.AudioUpload{}, fmt.Errorf("read uploaded audio: %w", err)
	}
	return upstream.AudioUpload{Filename: header.Filename, Data: data}, nil
}

func (h *Handler) handleTTS(w http.ResponseWriter, r *http.Request, x *exchange) {
	var req upstream.SynthesisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		x.localError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out := h.upstream.Synthesize(r.Context(), req)
	if out.Kind == upstream.OK {
		x.metrics.RecordAudioBytes("out", len(out.Body))
	}
	x.relay(w, out)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
