package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/audio"
	"github.com/lexiqai/chat-gateway/internal/config"
	"github.com/lexiqai/chat-gateway/internal/locale"
	"github.com/lexiqai/chat-gateway/internal/speech"
)

func newTestApp(t *testing.T, gatewayURL string) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := &config.ClientConfig{
		GatewayURL:    gatewayURL,
		ChatTimeout:   5,
		PlayerCommand: "true",
		SampleRate:    16000,
	}
	out := &bytes.Buffer{}
	logger := zerolog.Nop()
	a, err := newApp(cfg, locale.English, "", false, out, &logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a, out
}

func TestApp_ChatTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"**GDP** grew"}`))
	}))
	defer srv.Close()

	a, out := newTestApp(t, srv.URL)
	a.handle(context.Background(), "how is the economy?")
	a.wg.Wait()

	got := out.String()
	if !strings.Contains(got, "you> how is the economy?") {
		t.Errorf("Expected the user line, got:\n%s", got)
	}
	if !strings.Contains(got, "bot> GDP grew") {
		t.Errorf("Expected the plain-text answer, got:\n%s", got)
	}
}

func TestApp_DictationUnavailable(t *testing.T) {
	a, out := newTestApp(t, "http://localhost:8080")
	a.handle(context.Background(), "/mic start")

	if a.session.State().Phase != speech.Stopped {
		t.Errorf("Expected no session, got %s", a.session.State().Phase)
	}
	if !strings.Contains(out.String(), locale.Text(locale.English, locale.RecognitionUnsupported)) {
		t.Errorf("Expected the unsupported notice, got:\n%s", out.String())
	}
}

func TestApp_QuitStopsLoop(t *testing.T) {
	a, _ := newTestApp(t, "http://localhost:8080")
	if a.handle(context.Background(), "/quit") {
		t.Error("Expected /quit to end the loop")
	}
	if !a.handle(context.Background(), "/help") {
		t.Error("Expected /help to keep the loop running")
	}
}

func TestTerminal_RenderAfterReset(t *testing.T) {
	out := &bytes.Buffer{}
	term := &terminal{out: out}
	a, _ := newTestApp(t, "http://localhost:8080")
	a.conv.Notify("one", false)
	a.conv.Notify("two", false)
	term.Render(a.conv.Messages())

	out.Reset()
	term.Render(a.conv.Messages()[:1])
	if !strings.HasPrefix(out.String(), "----") {
		t.Errorf("Expected a divider when history shrinks, got:\n%s", out.String())
	}
}

func TestTerminal_EveryResetRedraws(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Conversation history cleared"}`))
	}))
	defer srv.Close()

	a, out := newTestApp(t, srv.URL)
	cleared := locale.Text(locale.English, locale.HistoryCleared)

	a.handle(context.Background(), "/reset")
	out.Reset()
	a.handle(context.Background(), "/reset")

	got := out.String()
	if !strings.HasPrefix(got, "----") {
		t.Errorf("Expected a divider on the second reset, got:\n%s", got)
	}
	if !strings.Contains(got, cleared) {
		t.Errorf("Expected the cleared notice again, got:\n%s", got)
	}
}

func TestApp_MicrophoneInUse(t *testing.T) {
	a, out := newTestApp(t, "http://localhost:8080")
	a.mic = audio.NewMicrophone(16000)
	busy := locale.Text(locale.English, locale.MicrophoneBusy)

	a.recording.Store(true)
	a.record(context.Background(), "1")
	if strings.Count(out.String(), busy) != 1 {
		t.Errorf("Expected a busy notice for a second recording, got:\n%s", out.String())
	}

	a.handle(context.Background(), "/mic start")
	if strings.Count(out.String(), busy) != 2 {
		t.Errorf("Expected a busy notice for dictation during a recording, got:\n%s", out.String())
	}
	if a.session.State().Phase != speech.Stopped {
		t.Errorf("Expected no dictation session, got %s", a.session.State().Phase)
	}
	if !a.recording.Load() {
		t.Error("A refused recording must not clear the flag")
	}
}

func TestLoadClip_WrapsRawPCM(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "clip.raw")
	if err := os.WriteFile(raw, []byte{0x01, 0x00, 0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}

	upload, err := loadClip(raw, 16000)
	if err != nil {
		t.Fatalf("loadClip: %v", err)
	}
	if upload.Filename != "clip.wav" {
		t.Errorf("Expected clip.wav, got %q", upload.Filename)
	}
	if !bytes.HasPrefix(upload.Data, []byte("RIFF")) {
		t.Error("Expected a WAV container")
	}

	mp3 := filepath.Join(dir, "clip.mp3")
	if err := os.WriteFile(mp3, []byte{0x49, 0x44, 0x33}, 0o644); err != nil {
		t.Fatal(err)
	}
	upload, err = loadClip(mp3, 16000)
	if err != nil {
		t.Fatalf("loadClip: %v", err)
	}
	if upload.Filename != "clip.mp3" || !bytes.Equal(upload.Data, []byte{0x49, 0x44, 0x33}) {
		t.Errorf("Expected the file unchanged, got %q %v", upload.Filename, upload.Data)
	}
}
