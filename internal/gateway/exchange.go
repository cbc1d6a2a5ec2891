package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/chat-gateway/internal/observability"
	"github.com/lexiqai/chat-gateway/internal/upstream"
)

// exchange carries the per-request state of one proxied call
type exchange struct {
	op      upstream.Operation
	logger  zerolog.Logger
	metrics *observability.RequestMetrics
}

func (h *Handler) wrap(op upstream.Operation, fn func(http.ResponseWriter, *http.Request, *exchange)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(observability.CorrelationHeader)
		if id == "" {
			id = observability.NewCorrelationID()
		}
		w.Header().Set(observability.CorrelationHeader, id)

		x := &exchange{
			op: op,
			logger: observability.WithCorrelationID(h.logger, id).With().
				Str("operation", string(op)).
				Logger(),
			metrics: observability.NewRequestMetrics(string(op)),
		}

		defer func() {
			if rec := recover(); rec != nil {
				x.logger.Error().Interface("panic", rec).Msg("Gateway handler panicked")
				writeEnvelope(w, http.StatusInternalServerError, envelopeKey(op), "internal error")
				x.metrics.RecordEnd(observability.OutcomeLocalError)
			}
		}()

		ctx := upstream.WithRequestID(r.Context(), id)
		fn(w, r.WithContext(ctx), x)
	}
}

// relay writes an upstream outcome back to the browser
func (x *exchange) relay(w http.ResponseWriter, out upstream.Outcome) {
	switch out.Kind {
	case upstream.OK, upstream.UpstreamFailure:
		contentType := out.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		if x.op == upstream.OpTTS {
			w.Header().Set("Cache-Control", "no-cache")
			if out.Disposition != "" {
				w.Header().Set("Content-Disposition", out.Disposition)
			}
		}
		w.WriteHeader(out.Status)
		w.Write(out.Body)

		if out.Kind == upstream.OK {
			x.metrics.RecordEnd(observability.OutcomeOK)
		} else {
			x.metrics.RecordEnd(observability.OutcomeUpstreamError)
		}

	default:
		x.logger.Error().
			Str("upstream_path", x.op.Path()).
			Str("reason", out.Reason).
			Msg("Upstream unreachable")
		writeEnvelope(w, http.StatusBadGateway, envelopeKey(x.op),
			fmt.Sprintf("gateway error: cannot reach upstream %s", x.op.Path()))
		x.metrics.RecordEnd(observability.OutcomeUnreachable)
	}
}

// localError answers without contacting the upstream
func (x *exchange) localError(w http.ResponseWriter, status int, message string, cause error) {
	x.logger.Debug().Err(cause).Int("status", status).Msg("Rejected request before upstream call")
	writeEnvelope(w, status, envelopeKey(x.op), message)
	x.metrics.RecordEnd(observability.OutcomeLocalError)
}

// reset failures have always been reported under "message"
func envelopeKey(op upstream.Operation) string {
	if op == upstream.OpReset {
		return "message"
	}
	return "error"
}

func writeEnvelope(w http.ResponseWriter, status int, key, message string) {
	body, _ := json.Marshal(map[string]string{key: message})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Disposition")
	w.WriteHeader(status)
	w.Write(body)
}
