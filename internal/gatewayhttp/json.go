package gatewayhttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keithlinneman/storyboard/internal/log"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes headers and status before encoding; an encoding failure
// leaves a partial body and is only logged.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.FromContext(ctx).Error(ctx, err, "failed to encode JSON response")
	}
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, ErrorResponse{Error: message}, status)
}
