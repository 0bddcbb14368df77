package gatewayhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/keithlinneman/storyboard/internal/log"
	"github.com/keithlinneman/storyboard/internal/storyboard"
)

// Result labels for Recorder.IncStoreOp.
const (
	resultOK               = "ok"
	resultNotModified      = "not_modified"
	resultInvalidToken     = "invalid_token"
	resultNotWritable      = "not_writable"
	resultTemplateNotFound = "template_not_found"
	resultConfigError      = "config_error"
	resultIOError          = "io_error"
	resultTooLarge         = "too_large"
	resultBadRequest       = "bad_request"
	resultCanceled         = "canceled"
)

// failure is how one error is answered.
type failure struct {
	status  int
	message string
	result  string
}

func classify(err error) failure {
	switch {
	case errors.Is(err, storyboard.ErrInvalidToken):
		return failure{http.StatusForbidden, storyboard.ErrInvalidToken.Error(), resultInvalidToken}
	case errors.Is(err, storyboard.ErrStorageNotWritable):
		return failure{http.StatusServiceUnavailable, storyboard.ErrStorageNotWritable.Error(), resultNotWritable}
	case errors.Is(err, storyboard.ErrTemplateNotFound):
		return failure{http.StatusNotFound, storyboard.ErrTemplateNotFound.Error(), resultTemplateNotFound}
	case errors.Is(err, storyboard.ErrConfigNotFound):
		return failure{http.StatusInternalServerError, storyboard.ErrConfigNotFound.Error(), resultConfigError}
	case errors.Is(err, storyboard.ErrConfigInvalid):
		return failure{http.StatusInternalServerError, storyboard.ErrConfigInvalid.Error(), resultConfigError}
	case errors.Is(err, storyboard.ErrIO):
		return failure{http.StatusInternalServerError, storyboard.ErrIO.Error(), resultIOError}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failure{http.StatusServiceUnavailable, "request canceled", resultCanceled}
	}
	return failure{http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), resultIOError}
}

// fail records, logs and answers a failed store operation.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	f := classify(err)
	h.rec.IncStoreOp(op, f.result)

	L := log.FromContext(ctx)
	if f.status >= http.StatusInternalServerError {
		L.Error(ctx, err, "storyboard operation failed", "op", op, "result", f.result)
	} else {
		L.Warn(ctx, "storyboard operation rejected", "op", op, "result", f.result)
	}

	if f.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(h.retryAfterSeconds()))
	}
	writeJSONError(ctx, w, f.message, f.status)
}
