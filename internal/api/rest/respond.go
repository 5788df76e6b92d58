package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
)

// errorResponse is the wire shape for every error answer.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors to HTTP answers. Internal details stay in the
// logs; callers see the taxonomy code and message only.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := apperrors.GetStatusCode(err)

	var appErr *apperrors.AppError
	body := errorBody{Code: "INTERNAL_ERROR", Message: "internal server error"}
	if errors.As(err, &appErr) {
		body = errorBody{Code: appErr.Code, Message: appErr.Message, Type: string(appErr.Type)}
	}

	if status >= 500 {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error())
		// Never leak internals on 5xx.
		body = errorBody{Code: "INTERNAL_ERROR", Message: "internal server error"}
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorResponse{Error: body})
}
