package opshttp

import (
	"net/http"

	"github.com/keithlinneman/storyboard/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs after a handler panic is recovered, e.g. to count it.
	OnPanic func()
}
