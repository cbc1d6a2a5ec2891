package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

// Reply is a gateway response as the client received it
type Reply struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status
func (r Reply) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// IsAudio reports whether the body carries audio
func (r Reply) IsAudio() bool {
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mediaType = r.ContentType
	}
	return strings.HasPrefix(strings.ToLower(mediaType), "audio/")
}

// ErrorText extracts the human readable message from a JSON error body.
// It returns "" when the body carries none.
func ErrorText(body []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case envelope.Error != "":
		return envelope.Error
	case envelope.Message != "":
		return envelope.Message
	}
	if s, ok := envelope.Detail.(string); ok {
		return s
	}
	return ""
}

// GatewayClient calls the gateway's browser-facing routes
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGatewayClient creates a client for the gateway at baseURL. Deadlines
// come from the caller's context.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Chat posts one chat turn
func (c *GatewayClient) Chat(ctx context.Context, req upstream.ChatRequest) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode chat request: %w", err)
	}
	return c.post(ctx, "/api/chat", "application/json", body)
}

// Reset clears the conversation history held upstream
func (c *GatewayClient) Reset(ctx context.Context) (Reply, error) {
	return c.post(ctx, "/api/reset", "", nil)
}

// Transcribe uploads a recorded clip for speech-to-text
func (c *GatewayClient) Transcribe(ctx context.Context, upload upstream.AudioUpload, lang string) (Reply, error) {
	body, contentType, err := upstream.EncodeAudioForm(upload)
	if err != nil {
		return Reply{}, err
	}
	path := "/api/stt"
	if lang != "" {
		path += "?" + url.Values{"lang": {lang}}.Encode()
	}
	return c.post(ctx, path, contentType, body)
}

// Synthesize requests speech audio for req
func (c *GatewayClient) Synthesize(ctx context.Context, req upstream.SynthesisRequest) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode synthesis request: %w", err)
	}
	return c.post(ctx, "/api/tts", "application/json", body)
}

func (c *GatewayClient) post(ctx context.Context, path, contentType string, body []byte) (Reply, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return Reply{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(observability.CorrelationHeader, observability.NewCorrelationID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read %s response: %w", path, err)
	}
	return Reply{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
