package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/deskrelay/auth-session-service/internal/service"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// AuthFailure writes a taxonomy error with its mapped status. Anything
// outside the taxonomy is an internal fault: logged with full context here,
// never echoed back to the client.
func AuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := service.AsAuthError(err); ok {
		var details interface{}
		if len(ae.Details) > 0 {
			details = ae.Details
		}
		Error(w, r, service.HTTPStatus(ae.Code), string(ae.Code), ae.Message, details)
		return
	}
	slog.ErrorContext(r.Context(), "internal error on auth path",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", buildMeta(r).RequestID,
	)
	Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
