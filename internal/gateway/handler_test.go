package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/upstream"
)

// fakeUpstream records calls and answers with canned outcomes
type fakeUpstream struct {
	mu sync.Mutex

	outcome upstream.Outcome
	calls   int

	chatReq   upstream.ChatRequest
	ttsReq    upstream.SynthesisRequest
	upload    upstream.AudioUpload
	sttLang   string
	requestID string
}

func (f *fakeUpstream) record(ctx context.Context) {
	f.calls++
	f.requestID = upstream.RequestIDFromContext(ctx)
}

func (f *fakeUpstream) Chat(ctx context.Context, req upstream.ChatRequest) upstream.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.chatReq = req
	return f.outcome
}

func (f *fakeUpstream) Reset(ctx context.Context) upstream.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	return f.outcome
}

func (f *fakeUpstream) Transcribe(ctx context.Context, upload upstream.AudioUpload, lang string) (upstream.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.upload = upload
	f.sttLang = lang
	return f.outcome, nil
}

func (f *fakeUpstream) Synthesize(ctx context.Context, req upstream.SynthesisRequest) upstream.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.ttsReq = req
	return f.outcome
}

func newTestMux(up Upstream, logs *bytes.Buffer) *http.ServeMux {
	logger := zerolog.New(logs).Level(zerolog.DebugLevel)
	mux := http.NewServeMux()
	New(up, Options{Logger: &logger}).Register(mux)
	return mux
}

func okJSON(body string) upstream.Outcome {
	return upstream.Outcome{Kind: upstream.OK, Status: http.StatusOK, ContentType: "application/json", Body: []byte(body)}
}

func audioForm(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var env map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("Expected JSON envelope, got %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestChat_RelaysUpstreamAnswer(t *testing.T) {
	up := &fakeUpstream{outcome: okJSON(`{"answer":"hello"}`)}
	mux := newTestMux(up, &bytes.Buffer{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","lang":"en-US"}`))
	req.Header.Set("X-Request-ID", "corr-42")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"answer":"hello"}` {
		t.Errorf("Body was altered: %q", rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "corr-42" {
		t.Errorf("Expected correlation header echoed, got %q", got)
	}
	if up.chatReq.Message != "hi" || up.chatReq.Lang != "en-US" {
		t.Errorf("Upstream received %+v", up.chatReq)
	}
	if up.requestID != "corr-42" {
		t.Errorf("Expected request ID in upstream context, got %q", up.requestID)
	}
}

func TestChat_GeneratesCorrelationID(t *testing.T) {
	up := &fakeUpstream{outcome: okJSON(`{}`)}
	mux := newTestMux(up, &bytes.Buffer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"x"}`)))

	id := rec.Header().Get("X-Request-ID")
	if id == "" || id != up.requestID {
		t.Errorf("Expected generated ID to reach upstream, header=%q upstream=%q", id, up.requestID)
	}
}

func TestChat_RelaysUpstreamFailureVerbatim(t *testing.T) {
	up := &fakeUpstream{outcome: upstream.Outcome{
		Kind:        upstream.UpstreamFailure,
		Status:      http.StatusUnprocessableEntity,
		ContentType: "application/json",
		Body:        []byte(`{"detail":"bad message"}`),
	}}
	var logs bytes.Buffer
	mux := newTestMux(up, &logs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 to pass through, got %d", rec.Code)
	}
	if rec.Body.String() != `{"detail":"bad message"}` {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if strings.Contains(logs.String(), `"level":"error"`) {
		t.Errorf("Upstream failures must not be logged as errors: %s", logs.String())
	}
}

func TestChat_InvalidBody(t *testing.T) {
	up := &fakeUpstream{}
	mux := newTestMux(up, &bytes.Buffer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if up.calls != 0 {
		t.Error("Upstream must not be called for an invalid body")
	}
	if env := decodeEnvelope(t, rec); env["error"] == "" {
		t.Errorf("Expected error envelope, got %v", env)
	}
}

func TestUnreachable_ReturnsBadGatewayPerOperation(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   func(t *testing.T) (*bytes.Buffer, string)
		key    string
		target string
	}{
		{
			name:   "chat",
			path:   "/api/chat",
			body:   jsonBody(`{"message":"hi"}`),
			key:    "error",
			target: "/chat",
		},
		{
			name:   "reset",
			path:   "/api/reset",
			body:   jsonBody(``),
			key:    "message",
			target: "/reset",
		},
		{
			name: "stt",
			path: "/api/stt",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return audioForm(t, upstream.AudioField, "clip.webm", []byte("RIFF"))
			},
			key:    "error",
			target: "/api/stt",
		},
		{
			name:   "tts",
			path:   "/api/tts",
			body:   jsonBody(`{"text":"hi"}`),
			key:    "error",
			target: "/api/tts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{outcome: upstream.Outcome{Kind: upstream.Unreachable, Reason: "dial tcp: connection refused"}}
			var logs bytes.Buffer
			mux := newTestMux(up, &logs)

			body, contentType := tt.body(t)
			req := httptest.NewRequest(http.MethodPost, tt.path, body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadGateway {
				t.Fatalf("Expected 502, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON envelope, got %q", ct)
			}
			env := decodeEnvelope(t, rec)
			if !strings.Contains(env[tt.key], tt.target) {
				t.Errorf("Expected %q to name %s, got %v", tt.key, tt.target, env)
			}
			if !strings.Contains(logs.String(), `"level":"error"`) || !strings.Contains(logs.String(), "connection refused") {
				t.Errorf("Expected an error log with the reason, got %s", logs.String())
			}
		})
	}
}

func jsonBody(s string) func(t *testing.T) (*bytes.Buffer, string) {
	return func(t *testing.T) (*bytes.Buffer, string) {
		return bytes.NewBufferString(s), "application/json"
	}
}

func TestReset_RelaysSuccess(t *testing.T) {
	up := &fakeUpstream{outcome: okJSON(`{"message":"Conversation history cleared"}`)}
	mux := newTestMux(up, &bytes.Buffer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))

	if rec.Code != http.StatusOK || up.calls != 1 {
		t.Errorf("Expected one upstream call and 200, got %d calls and %d", up.calls, rec.Code)
	}
}

func TestSTT_DefaultsLanguageAndForwardsFile(t *testing.T) {
	up := &fakeUpstream{outcome: okJSON(`{"text":"안녕"}`)}
	mux := newTestMux(up, &bytes.Buffer{})

	body, contentType := audioForm(t, upstream.AudioField, "clip.webm", []byte{0x1a, 0x45, 0xdf, 0xa3})
	req := httptest.NewRequest(http.MethodPost, "/api/stt", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if up.sttLang != "Kor" {
		t.Errorf("Expected default lang Kor, got %q", up.sttLang)
	}
	if up.upload.Filename != "clip.webm" || !bytes.Equal(up.upload.Data, []byte{0x1a, 0x45, 0xdf, 0xa3}) {
		t.Errorf("Unexpected upload %q %v", up.upload.Filename, up.upload.Data)
	}
}

func TestSTT_MapsLocaleToCode(t *testing.T) {
	up := &fakeUpstream{outcome: okJSON(`{"text":"hello"}`)}
	mux := newTestMux(up, &bytes.Buffer{})

	body, contentType := audioForm(t, upstream.AudioField, "clip.webm", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/stt?lang=en-US", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if up.sttLang != "Eng" {
		t.Errorf("Expected en-US to map to Eng, got %q", up.sttLang)
	}
}

func TestSTT_RejectsUnsupportedLanguage(t *testing.T) {
	up := &fakeUpstream{}
	mux := newTestMux(up, &bytes.Buffer{})

	body, contentType := audioForm(t, upstream.AudioField, "clip.webm", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/stt?lang=xx-YY", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if up.calls != 0 {
		t.Error("Upstream must not be called for an unsupported lang")
	}
}

func TestSTT_MissingAudioPart(t *testing.T) {
	tests := []struct {
		name string
		body func(t *testing.T) (*bytes.Buffer, string)
	}{
		{
			name: "wrong field",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return audioForm(t, "file", "clip.webm", []byte("x"))
			},
		},
		{
			name: "not multipart",
			body: jsonBody(`{}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{}
			mux := newTestMux(up, &bytes.Buffer{})

			body, contentType := tt.body(t)
			req := httptest.NewRequest(http.MethodPost, "/api/stt", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
			if env := decodeEnvelope(t, rec); !strings.Contains(env["error"], upstream.AudioField) {
				t.Errorf("Expected envelope naming %s, got %v", upstream.AudioField, env)
			}
			if up.calls != 0 {
				t.Error("Upstream must not be called without audio")
			}
		})
	}
}

func TestTTS_RelaysAudioWithHeaders(t *testing.T) {
	up := &fakeUpstream{outcome: upstream.Outcome{
		Kind:        upstream.OK,
		Status:      http.StatusOK,
		ContentType: "audio/mpeg",
		Disposition: `inline; filename="tts.mp3"`,
		Body:        []byte{0xff, 0xfb, 0x90},
	}}
	mux := newTestMux(up, &bytes.Buffer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tts",
		strings.NewReader(`{"text":"hi","lang":"en-US","voice":"en-US-Standard-C","fmt":"MP3","rate":1.0,"pitch":0.0}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `inline; filename="tts.mp3"` {
		t.Errorf("Expected disposition preserved, got %q", cd)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Expected no-cache, got %q", cc)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte{0xff, 0xfb, 0x90}) {
		t.Errorf("Audio body altered: %v", rec.Body.Bytes())
	}
	if up.ttsReq.Pitch == nil || *up.ttsReq.Pitch != 0 {
		t.Errorf("Expected explicit pitch to be forwarded, got %v", up.ttsReq.Pitch)
	}
}

func TestTTS_RelaysStructuredError(t *testing.T) {
	up := &fakeUpstream{outcome: upstream.Outcome{
		Kind:        upstream.UpstreamFailure,
		Status:      http.StatusBadRequest,
		ContentType: "application/json",
		Body:        []byte(`{"error":"voice not found"}`),
	}}
	mux := newTestMux(up, &bytes.Buffer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tts", strings.NewReader(`{"text":"hi"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 to pass through, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON error, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "" {
		t.Errorf("Error responses must not carry a disposition, got %q", cd)
	}
}

func TestRoutes_RejectOtherMethods(t *testing.T) {
	mux := newTestMux(&fakeUpstream{}, &bytes.Buffer{})

	for _, path := range []string{"/api/chat", "/api/reset", "/api/stt", "/api/tts"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestChat_ForwardsUnknownFields(t *testing.T) {
	up := &fakeUpstream{outcome: okJSON(`{}`)}
	mux := newTestMux(up, &bytes.Buffer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi","session_id":"s1","client":"web"}`)))

	if up.chatReq.SessionID != "s1" {
		t.Errorf("Expected session_id, got %+v", up.chatReq)
	}
	if raw := string(up.chatReq.Extra["client"]); raw != `"web"` {
		t.Errorf("Expected client field kept, got %q", raw)
	}
}

func TestSTT_UnreadableAudio(t *testing.T) {
	up := &fakeUpstream{}
	mux := newTestMux(up, &bytes.Buffer{})

	body, contentType := audioForm(t, upstream.AudioField, "clip.webm", bytes.Repeat([]byte("x"), 64))
	truncated := bytes.NewBuffer(body.Bytes()[:body.Len()-12])
	req := httptest.NewRequest(http.MethodPost, "/api/stt", truncated)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env["error"] != "internal error" {
		t.Errorf("Expected internal error envelope, got %v", env)
	}
	if up.calls != 0 {
		t.Error("Upstream must not be called for unreadable audio")
	}
}

func TestSTT_OversizeUpload(t *testing.T) {
	up := &fakeUpstream{}
	logger := zerolog.Nop()
	mux := http.NewServeMux()
	New(up, Options{MaxUploadBytes: 1024, Logger: &logger}).Register(mux)

	body, contentType := audioForm(t, upstream.AudioField, "clip.webm", bytes.Repeat([]byte("x"), 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/stt", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); !strings.Contains(env["error"], upstream.AudioField) {
		t.Errorf("Expected envelope naming %s, got %v", upstream.AudioField, env)
	}
	if up.calls != 0 {
		t.Error("Upstream must not be called for an oversize upload")
	}
}

// panickingUpstream fails every call with a runtime panic
type panickingUpstream struct {
	fakeUpstream
}

func (p *panickingUpstream) Chat(ctx context.Context, req upstream.ChatRequest) upstream.Outcome {
	panic("nil map write")
}

func TestHandler_RecoversPanic(t *testing.T) {
	var logs bytes.Buffer
	mux := newTestMux(&panickingUpstream{}, &logs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON envelope, got %q", ct)
	}
	if env := decodeEnvelope(t, rec); env["error"] != "internal error" {
		t.Errorf("Expected internal error envelope, got %v", env)
	}
	if !strings.Contains(logs.String(), "nil map write") {
		t.Errorf("Expected the panic to be logged, got %s", logs.String())
	}
}
