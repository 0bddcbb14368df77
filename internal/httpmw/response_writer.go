package httpmw

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "storyboard/httpmw"

// recordingWriter records the status and body size for the access log. When
// the request span is recording it also times the response in a
// "response.write" child span opened by the first WriteHeader or Write.
type recordingWriter struct {
	http.ResponseWriter

	ctx   context.Context
	start time.Time

	status int
	bytes  int64

	began   bool
	span    trace.Span
	blocked time.Duration
	err     error
}

func newRecordingWriter(w http.ResponseWriter, ctx context.Context, start time.Time) *recordingWriter {
	return &recordingWriter{ResponseWriter: w, ctx: ctx, start: start}
}

func (w *recordingWriter) begin() {
	if w.began {
		return
	}
	w.began = true
	parent := trace.SpanFromContext(w.ctx)
	if !parent.IsRecording() {
		return
	}
	// the parent's provider, so the child lands with the request span
	_, w.span = parent.TracerProvider().Tracer(tracerName).Start(w.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(w.start).Seconds())),
	)
}

func (w *recordingWriter) WriteHeader(code int) {
	w.begin()
	// informational responses precede the real status
	if w.status == 0 && code >= 200 {
		w.status = code
	}
	t := time.Now()
	w.ResponseWriter.WriteHeader(code)
	w.blocked += time.Since(t)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.begin()
	if w.status == 0 {
		w.status = http.StatusOK
	}
	t := time.Now()
	n, err := w.ResponseWriter.Write(b)
	w.blocked += time.Since(t)
	w.bytes += int64(n)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *recordingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *recordingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// statusCode is 200 when the handler never wrote anything.
func (w *recordingWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *recordingWriter) end() {
	if w.span == nil {
		return
	}
	w.span.SetAttributes(
		attribute.Int("http.response.status_code", w.statusCode()),
		attribute.Int64("http.response.body.size", w.bytes),
		attribute.Float64("http.server.write.block_seconds", w.blocked.Seconds()),
	)
	if w.err != nil {
		w.span.RecordError(w.err)
		w.span.SetStatus(codes.Error, w.err.Error())
	}
	w.span.End()
}
