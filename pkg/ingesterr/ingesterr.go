package ingesterr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies an ingestion failure. The pipeline recovers row-level
// problems locally; everything that escapes a component carries one of these.
type Kind string

const (
	KindFormat       Kind = "format"        // CSV missing required column or unparseable date
	KindEmptyDataset Kind = "empty_dataset" // zero usable rows parsed
	KindAuth         Kind = "auth"          // no session / bad webhook secret
	KindStorage      Kind = "storage"       // blob write/read failure
	KindStore        Kind = "store"         // database delete/insert/query failure
	KindWorker       Kind = "worker"        // external scraper unreachable or non-2xx
	KindPartialBatch Kind = "partial_batch" // aggregate of per-entity failures
)

// Error is the ingestion pipeline's error type.
type Error struct {
	Kind    Kind
	Entity  string // owning entity name, when known
	Message string
	cause   error
}

func (e *Error) Error() string {
	parts := []string{}
	if e.Entity != "" {
		parts = append(parts, fmt.Sprintf("entity '%s'", e.Entity))
	}
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	if len(parts) == 0 {
		return msg
	}
	return strings.Join(parts, " ") + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AddEntity attaches the owning entity name to the error.
func (e *Error) AddEntity(name string) *Error {
	e.Entity = name
	return e
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func NewFormatError(format string, args ...any) *Error {
	return newError(KindFormat, fmt.Sprintf(format, args...), nil)
}

func NewEmptyDatasetError(format string, args ...any) *Error {
	return newError(KindEmptyDataset, fmt.Sprintf(format, args...), nil)
}

func NewAuthError(msg string) *Error {
	return newError(KindAuth, msg, nil)
}

func NewStorageError(msg string, cause error) *Error {
	return newError(KindStorage, msg, cause)
}

func NewStoreError(msg string, cause error) *Error {
	return newError(KindStore, msg, cause)
}

func NewWorkerError(msg string, cause error) *Error {
	return newError(KindWorker, msg, cause)
}

func NewPartialBatchError(msg string, cause error) *Error {
	return newError(KindPartialBatch, msg, cause)
}

// AsError unwraps err to an ingestion *Error if there is one in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the ingestion kind of err, or "" if err is not an ingestion error.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an ingestion error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ToHTTPError maps the taxonomy onto HTTP statuses for the echo error handler.
func (e *Error) ToHTTPError() *httperror.HTTPError {
	status := http.StatusInternalServerError
	switch e.Kind {
	case KindFormat, KindEmptyDataset:
		status = http.StatusUnprocessableEntity
	case KindAuth:
		status = http.StatusUnauthorized
	case KindWorker:
		status = http.StatusBadGateway
	case KindStorage, KindStore, KindPartialBatch:
		status = http.StatusInternalServerError
	}

	return httperror.NewHTTPError(status, e.Error()).
		AddMetaValue("kind", string(e.Kind)).
		AddMetaValue("entity", e.Entity)
}
