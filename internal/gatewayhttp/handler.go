package gatewayhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"

	"github.com/keithlinneman/storyboard/internal/cryptoutil"
	"github.com/keithlinneman/storyboard/internal/httpmw"
	"github.com/keithlinneman/storyboard/internal/log"
	"github.com/keithlinneman/storyboard/internal/mirror"
	"github.com/keithlinneman/storyboard/internal/storyboard"
	"github.com/keithlinneman/storyboard/internal/xerrors"
)

// Routes served by the gateway.
const (
	PagePath    = "/"
	ContentPath = "/api/content"
)

// TokenHeader carries the caller token when no bearer token is sent.
const TokenHeader = "X-Storyboard-Token"

// Recorder receives operation counts. *metrics.ServerMetrics satisfies it.
type Recorder interface {
	IncStoreOp(op, result string)
	ObserveWrite(op string, n int, at time.Time)
	ObserveMirror(d time.Duration, err error)
}

// Publisher copies the storage file somewhere after a write.
// *mirror.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, fsys afero.Fs, storagePath string) (mirror.Result, error)
}

type Options struct {
	// ConfigPath is the storyboard YAML configuration file.
	ConfigPath string

	// FS resolves every path; defaults to the OS filesystem.
	FS afero.Fs

	// Parser overrides the YAML configuration parser.
	Parser storyboard.Parser

	// StrictToken compares tokens as exact strings.
	StrictToken bool

	// EscapeMarkup escapes the content rendered into the page.
	EscapeMarkup bool

	Recorder Recorder
	Mirror   Publisher

	// RetryAfter is advertised on 503 answers; defaults to 5s.
	RetryAfter time.Duration

	// MirrorTimeout bounds each mirror upload; defaults to 30s.
	MirrorTimeout time.Duration
}

type Handler struct {
	opts Options
	rec  Recorder
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	if opts.ConfigPath == "" {
		return nil, xerrors.New("ConfigPath is required")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = 30 * time.Second
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Handler{opts: opts, rec: rec}, nil
}

// RegisterRoutes mounts the page and content routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("page")).Get(PagePath, h.page)

	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("content"))
		r.Get(ContentPath, h.getContent)
		r.Put(ContentPath, h.writeContent(false))
		r.Post(ContentPath, h.writeContent(true))
	})
}

// NotFound answers unmatched routes with a JSON 404.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(r.Context(), w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

// MethodNotAllowed answers known routes hit with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(r.Context(), w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// Ready loads the configuration and stats the storage file, as a readiness
// check for the deployment.
func (h *Handler) Ready(ctx context.Context) error {
	s := h.store("")
	if _, err := s.StorageInfo(ctx); err != nil {
		return err
	}
	return nil
}

func (h *Handler) store(token string) *storyboard.Store {
	opts := []storyboard.Option{storyboard.WithFS(h.opts.FS)}
	if h.opts.Parser != nil {
		opts = append(opts, storyboard.WithParser(h.opts.Parser))
	}
	if h.opts.StrictToken {
		opts = append(opts, storyboard.WithStrictToken())
	}
	return storyboard.New(h.opts.ConfigPath, token, opts...)
}

func (h *Handler) retryAfterSeconds() int {
	secs := int(h.opts.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// page renders the template with the stored content.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := h.store("")

	render := s.RenderTemplate
	if h.opts.EscapeMarkup {
		render = s.RenderTemplateEscaped
	}
	html, err := render(ctx)
	if err != nil {
		h.fail(w, r, "render", err)
		return
	}

	h.serveBody(w, r, s, "render", "text/html; charset=utf-8", []byte(html), false)
}

// getContent returns the raw storage file, escaped when ?escape is true.
func (h *Handler) getContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := h.store("")

	escape := false
	if v := r.URL.Query().Get("escape"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.rec.IncStoreOp("read", resultBadRequest)
			writeJSONError(ctx, w, "escape must be a boolean", http.StatusBadRequest)
			return
		}
		escape = b
	}

	content, err := s.ReadContent(ctx, escape)
	if err != nil {
		h.fail(w, r, "read", err)
		return
	}

	h.serveBody(w, r, s, "read", "text/plain; charset=utf-8", []byte(content), true)
}

// serveBody writes body with an ETag, answering a matching If-None-Match
// with 304. lastModified adds the storage file mtime.
func (h *Handler) serveBody(w http.ResponseWriter, r *http.Request, s *storyboard.Store, op, contentType string, body []byte, lastModified bool) {
	ctx := r.Context()
	etag := cryptoutil.ETag(body)

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if lastModified {
		if info, err := s.StorageInfo(ctx); err == nil {
			w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		}
	}

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		h.rec.IncStoreOp(op, resultNotModified)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.rec.IncStoreOp(op, resultOK)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.FromContext(ctx).Debug(ctx, "response write failed", "op", op, "error", err.Error())
	}
}

// writeContent overwrites the storage file, or appends to it.
func (h *Handler) writeContent(appendMode bool) http.HandlerFunc {
	op := "write"
	if appendMode {
		op = "append"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.rec.IncStoreOp(op, resultTooLarge)
				log.FromContext(ctx).Warn(ctx, "storyboard write rejected, body too large", "op", op, "limit", tooLarge.Limit)
				writeJSONError(ctx, w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			h.rec.IncStoreOp(op, resultBadRequest)
			writeJSONError(ctx, w, "could not read request body", http.StatusBadRequest)
			return
		}

		s := h.store(tokenFromRequest(r))
		if err := s.WriteContent(ctx, string(body), appendMode); err != nil {
			h.fail(w, r, op, err)
			return
		}
		h.rec.IncStoreOp(op, resultOK)
		h.rec.ObserveWrite(op, len(body), time.Now())

		h.publish(ctx, s)

		w.WriteHeader(http.StatusNoContent)
	}
}

// publish mirrors the storage file. The write has already succeeded, so a
// failure is only logged and counted. A client hanging up does not cancel
// the upload; MirrorTimeout bounds it instead.
func (h *Handler) publish(ctx context.Context, s *storyboard.Store) {
	if h.opts.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.MirrorTimeout)
	defer cancel()

	path, err := s.StoragePath(ctx)
	if err != nil {
		return
	}

	start := time.Now()
	_, err = h.opts.Mirror.Publish(ctx, h.opts.FS, path)
	h.rec.ObserveMirror(time.Since(start), err)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "storyboard mirror failed", "storage_path", path)
	}
}

// tokenFromRequest prefers a bearer token, then TokenHeader, then the token
// query parameter.
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, tok, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if tok := r.Header.Get(TokenHeader); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

// etagMatches implements the weak comparison If-None-Match uses.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		c := strings.TrimSpace(candidate)
		if c == "*" || strings.TrimPrefix(c, "W/") == want {
			return true
		}
	}
	return false
}

type nopRecorder struct{}

func (nopRecorder) IncStoreOp(string, string)           {}
func (nopRecorder) ObserveWrite(string, int, time.Time) {}
func (nopRecorder) ObserveMirror(time.Duration, error)  {}
