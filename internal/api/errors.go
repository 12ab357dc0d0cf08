package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shineum/contact-mailer/internal/dispatch"
	"github.com/shineum/contact-mailer/internal/ingest"
)

// HTTPError is an error with a status code and a client-facing detail.
type HTTPError struct {
	Status int
	Detail string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func badRequest(detail string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Detail: detail, Err: err}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// statusFor maps an error to a status code and detail message.
func statusFor(err error) (int, string) {
	var (
		httpErr      *HTTPError
		formatErr    *ingest.FormatError
		parseErr     *ingest.ParseError
		transportErr *dispatch.TransportError
		tooLarge     *http.MaxBytesError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status, httpErr.Detail
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
	case errors.As(err, &formatErr), errors.As(err, &parseErr), errors.Is(err, ingest.ErrEmptyFilename):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "SMTP Error: " + transportErr.Err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
