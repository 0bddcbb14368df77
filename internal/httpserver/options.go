package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/storyboard/internal/health"
	"github.com/keithlinneman/storyboard/internal/httpmw"
	"github.com/keithlinneman/storyboard/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes bounds request bodies; <= 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the storyboard routes on the router.
	APIRoutes func(chi.Router)

	// NotFound answers unmatched routes; nil keeps chi's default.
	NotFound http.Handler

	// MethodNotAllowed answers a known route hit with the wrong method.
	// nil falls back to NotFound, then to chi's default.
	MethodNotAllowed http.Handler
}
