package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/flowclip/flowclip-api/log"
	"github.com/xeipuuv/gojsonschema"
)

// Kind is the closed set of error classes the pipeline reports. The wire form
// is the lowercased name.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindAuth                Kind = "auth_error"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamProtocol    Kind = "upstream_protocol_error"
	KindRecoverableDownload Kind = "recoverable_download"
	KindInternal            Kind = "internal_error"
)

type APIError struct {
	Detail string `json:"detail"`
	Status int    `json:"code"`
	Err    error  `json:"-"`
}

func writeHTTPError(w http.ResponseWriter, detail string, status int, err error) APIError {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err != nil {
		detail = fmt.Sprintf("%s: %s", detail, err)
	}

	if encErr := json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "detail": detail}); encErr != nil {
		log.LogNoTaskID("error writing HTTP error", "http_error_detail", detail, "error", encErr)
	}
	return APIError{detail, status, err}
}

func WriteHTTPUnauthorized(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusUnauthorized, err)
}

func WriteHTTPForbidden(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusForbidden, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusBadRequest, err)
}

func WriteHTTPUnprocessableEntity(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusUnprocessableEntity, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusNotFound, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusServiceUnavailable, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, detail string, err error) APIError {
	return writeHTTPError(w, detail, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errs []gojsonschema.ResultError) APIError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errs); i++ {
		sb.WriteString(errs[i].String())
		sb.WriteString(" ")
	}
	return writeHTTPError(w, sb.String(), http.StatusUnprocessableEntity, nil)
}

// Special wrapper for errors that must not be retried by the worker retry
// caps; domain validation errors are always unretriable.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// PipelineError carries the normalized error_type persisted on failed tasks.
type PipelineError struct {
	Kind  Kind
	cause error
}

func (e PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e PipelineError) Unwrap() error {
	return e.cause
}

func NewPipelineError(kind Kind, cause error) error {
	err := PipelineError{Kind: kind, cause: cause}
	switch kind {
	case KindValidation, KindNotFound, KindAuth, KindUpstreamProtocol:
		return Unretriable(err)
	}
	return err
}

// KindOf extracts the normalized error class, defaulting to internal_error.
func KindOf(err error) Kind {
	var pe PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	// every not found is unretriable
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}
