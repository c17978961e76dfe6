package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"bookflow/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", library.ErrInvalidInput, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: request body too large", library.ErrInvalidInput)
	}
	if len(body) == 0 {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: request body is required", library.ErrInvalidInput)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", library.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps the library error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, library.ErrBookBorrowed):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrConflict), errors.Is(err, library.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, library.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, library.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, library.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message for err.
func messageFor(err error, status int) string {
	switch {
	case status == http.StatusInternalServerError:
		return "Internal Server Error"
	case status == http.StatusServiceUnavailable:
		return "Service temporarily unavailable"
	case errors.Is(err, library.ErrBookBorrowed):
		return "Book is already borrowed"
	case errors.Is(err, library.ErrBookOnLoan):
		return "Book has an active loan"
	case errors.Is(err, library.ErrLoanReturned):
		return "Loan already returned"
	case errors.Is(err, library.ErrDuplicateEmail):
		return "Email already registered"
	}
	return err.Error()
}

// writeLibError writes err with its mapped status; server-side failures are
// logged with full detail.
func (h *Handler) writeLibError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status)
	}
	resp := errorResponse{Error: messageFor(err, status)}
	var verr *library.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Fields
	}
	writeJSON(w, status, resp)
}
