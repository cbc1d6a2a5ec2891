package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/resilience"
)

const (
	defaultDisposition = `inline; filename="speech.bin"`
	contentTypeJSON    = "application/json"
	contentTypeBinary  = "application/octet-stream"
)

// Options configures a Client
type Options struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Circuit breaking is per operation; MaxFailures <= 0 disables it
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Transport overrides the dialing transport (tests)
	Transport http.RoundTripper
}

// Client issues calls to the upstream chat service and normalizes the results.
// It holds no per-request state and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breakers   map[Operation]*resilience.CircuitBreaker
}

// NewClient creates an upstream client
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q", opts.BaseURL)
	}
	if opts.ConnectTimeout <= 0 || opts.ReadTimeout <= 0 {
		return nil, errors.New("upstream timeouts must be positive")
	}

	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: opts.ConnectTimeout,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			// bounds the whole exchange, body included
			Timeout: opts.ReadTimeout,
		},
	}

	if opts.BreakerMaxFailures > 0 {
		c.breakers = make(map[Operation]*resilience.CircuitBreaker)
		for _, op := range []Operation{OpChat, OpReset, OpSTT, OpTTS} {
			c.breakers[op] = resilience.NewCircuitBreaker("upstream_"+string(op), opts.BreakerMaxFailures, opts.BreakerResetTimeout)
		}
	}

	return c, nil
}

// Chat forwards one chat turn
func (c *Client) Chat(ctx context.Context, req ChatRequest) Outcome {
	body, err := json.Marshal(req)
	if err != nil {
		return unreachable(fmt.Errorf("encode chat request: %w", err))
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	header.Set("Accept", contentTypeJSON)

	return c.do(ctx, OpChat, c.baseURL+OpChat.Path(), body, header)
}

// Reset clears the upstream conversation history
func (c *Client) Reset(ctx context.Context) Outcome {
	return c.do(ctx, OpReset, c.baseURL+OpReset.Path(), nil, http.Header{})
}

// Transcribe uploads audio for speech-to-text. The returned error reports a
// local failure to build the request; no network call was made in that case.
func (c *Client) Transcribe(ctx context.Context, upload AudioUpload, lang string) (Outcome, error) {
	body, contentType, err := EncodeAudioForm(upload)
	if err != nil {
		return Outcome{}, err
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Accept", contentTypeJSON)

	target := c.baseURL + OpSTT.Path() + "?" + url.Values{"lang": {lang}}.Encode()
	return c.do(ctx, OpSTT, target, body, header), nil
}

// Synthesize requests speech audio. Text beyond MaxSynthesisRunes is dropped.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) Outcome {
	req.Text = TruncateRunes(req.Text, MaxSynthesisRunes)

	body, err := json.Marshal(req)
	if err != nil {
		return unreachable(fmt.Errorf("encode synthesis request: %w", err))
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	header.Set("Accept", "audio/mpeg, audio/ogg, audio/wav, application/json")

	out := c.do(ctx, OpTTS, c.baseURL+OpTTS.Path(), body, header)
	if out.Kind == OK {
		if out.ContentType == "" {
			out.ContentType = contentTypeBinary
		}
		if out.Disposition == "" {
			out.Disposition = defaultDisposition
		}
	}
	return out
}

// Health reports whether the upstream answers its health endpoint
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.NewRetryableError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream health returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op Operation, target string, body []byte, header http.Header) Outcome {
	var out Outcome

	call := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
		if err != nil {
			out = unreachable(err)
			return err
		}
		req.Header = header
		if id := RequestIDFromContext(ctx); id != "" {
			req.Header.Set(observability.CorrelationHeader, id)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			out = unreachable(err)
			return breakerError(ctx, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			out = unreachable(fmt.Errorf("read upstream response: %w", err))
			return breakerError(ctx, err)
		}

		out = classify(resp, data)
		return nil
	}

	breaker := c.breakers[op]
	if breaker == nil {
		call()
		return out
	}

	before := breaker.GetState()
	if err := breaker.Call(call); errors.Is(err, resilience.ErrCircuitOpen) {
		out = unreachable(err)
	}
	state, requests, failures, rate := breaker.GetStats()
	if state != before {
		log.Warn().
			Str("breaker", breaker.Name()).
			Stringer("from", before).
			Stringer("to", state).
			Int64("requests", requests).
			Int64("failures", failures).
			Float64("failure_rate", rate).
			Msg("Upstream circuit breaker changed state")
	}
	observability.UpdateCircuitBreakerState(breaker.Name(), int(state))
	if out.Kind == Unreachable {
		observability.IncrementCircuitBreakerFailures(breaker.Name())
	}
	return out
}

// BreakerState returns the circuit state for op, or closed when breaking is off
func (c *Client) BreakerState(op Operation) resilience.CircuitState {
	if b := c.breakers[op]; b != nil {
		return b.GetState()
	}
	return resilience.StateClosed
}

// breakerError hides failures caused by the caller going away from the breaker
func breakerError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func classify(resp *http.Response, data []byte) Outcome {
	out := Outcome{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Disposition: resp.Header.Get("Content-Disposition"),
		Body:        data,
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		out.Kind = OK
		return out
	}
	out.Kind = UpstreamFailure
	if out.ContentType == "" {
		out.ContentType = contentTypeJSON
	}
	return out
}

func unreachable(err error) Outcome {
	return Outcome{Kind: Unreachable, Reason: err.Error()}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// EncodeAudioForm builds the multipart body carrying upload as the audio part.
// It returns the body and its Content-Type.
func EncodeAudioForm(upload AudioUpload) ([]byte, string, error) {
	filename := upload.Filename
	if filename == "" {
		filename = "audio.bin"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, AudioField, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentTypeBinary)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
