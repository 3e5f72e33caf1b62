package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

// StatusError is a non-2xx response from a downstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned status %d (%s): %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

// Unwrap maps the status onto the shared sentinels so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return apperrors.ErrConflict
	case e.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return apperrors.ErrForbidden
	case e.StatusCode == http.StatusTooManyRequests:
		return apperrors.ErrTooManyRequests
	case e.StatusCode == http.StatusServiceUnavailable:
		return apperrors.ErrServiceUnavail
	case IsClientError(e.StatusCode):
		return apperrors.ErrInvalidInput
	default:
		return apperrors.ErrInternal
	}
}

// ParseResponseError reads a non-2xx response into a *StatusError and closes
// the body. Both the envelope form {"error":{"code","message"}} and the flat
// form {"error":"message"} are understood; anything else is kept verbatim.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &StatusError{Service: service, StatusCode: resp.StatusCode, Message: "unreadable body: " + err.Error()}
	}

	se := &StatusError{Service: service, StatusCode: resp.StatusCode}

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Error) > 0 && string(payload.Error) != "null" {
		var structured struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(payload.Error, &flat) == nil:
			se.Message = flat
			return se
		case json.Unmarshal(payload.Error, &structured) == nil:
			se.Code, se.Message = structured.Code, structured.Message
			return se
		}
	}

	se.Message = strings.TrimSpace(string(body))
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
