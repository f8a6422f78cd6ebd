// Package apperr defines the error taxonomy shared by the derivative pipeline.
// Every error carries an API code in the "area/reason" form and maps to an
// HTTP status through Status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	CodeConfiguration      = "config/invalid_slot"
	CodeValidation         = "validation/invalid_upload"
	CodeDimensionsTooSmall = "validation/dimensions_too_small"
	CodeTooLarge           = "request/body_too_large"
	CodeUnsupportedFormat  = "request/invalid_media"
	CodeInvalidDimensions  = "validation/invalid_dimensions"
	CodeMetadataCollision  = "validation/metadata_collision"
	CodeTransform          = "image/processing_failed"
	CodeTransformTimeout   = "image/processing_timeout"
	CodeStorage            = "storage/write_failed"
	CodeNotFound           = "resource/not_found"
)

// ErrNotFound is returned when a record or temp upload does not exist.
var ErrNotFound = errors.New("not found")

// ConfigurationError reports a missing or malformed slot configuration.
// It is surfaced to the operator and never retried.
type ConfigurationError struct {
	Resource string
	Slot     string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Resource != "" && e.Slot != "":
		return fmt.Sprintf("configuration error for %s.%s: %s", e.Resource, e.Slot, e.Reason)
	case e.Resource != "":
		return fmt.Sprintf("configuration error for %s: %s", e.Resource, e.Reason)
	}
	return "configuration error: " + e.Reason
}

// ValidationError is reported to the end user. No bytes have been written
// when it is returned.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validation builds a ValidationError with the generic validation code.
func Validation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedFormat reports bytes that cannot be decoded as an image.
func UnsupportedFormat(err error) *ValidationError {
	msg := "unsupported image format"
	if err != nil {
		msg += ": " + err.Error()
	}
	return &ValidationError{Code: CodeUnsupportedFormat, Message: msg}
}

// InvalidDimensions reports a zero, negative or missing target dimension.
func InvalidDimensions(width, height int, mode string) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidDimensions,
		Message: fmt.Sprintf("invalid target dimensions %dx%d for %s", width, height, mode),
	}
}

// MetadataCollisionError lists metadata keys that shadow storage columns.
type MetadataCollisionError struct {
	Keys []string
}

func (e *MetadataCollisionError) Error() string {
	return fmt.Sprintf("image metadata field/s (%s) intersect with the derivative record schema",
		strings.Join(e.Keys, ", "))
}

// NewMetadataCollision sorts keys so the message is stable.
func NewMetadataCollision(keys []string) *MetadataCollisionError {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return &MetadataCollisionError{Keys: sorted}
}

// TransformError wraps a decode or resize failure after writing has begun.
type TransformError struct {
	Derivative string
	Err        error
}

func (e *TransformError) Error() string {
	if e.Derivative != "" {
		return fmt.Sprintf("transform %s: %v", e.Derivative, e.Err)
	}
	return fmt.Sprintf("transform: %v", e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// TransformTimeoutError is a TransformError raised when a decode or
// transform runs past its deadline.
type TransformTimeoutError struct {
	TransformError
}

// NewTimeout wraps the context error of an expired transform.
func NewTimeout(derivative string, err error) *TransformTimeoutError {
	return &TransformTimeoutError{TransformError{Derivative: derivative, Err: err}}
}

func (e *TransformTimeoutError) Error() string {
	return "timeout: " + e.TransformError.Error()
}

// As lets errors.As(err, **TransformError) match a timeout as well.
func (e *TransformTimeoutError) As(target interface{}) bool {
	if t, ok := target.(**TransformError); ok {
		*t = &e.TransformError
		return true
	}
	return false
}

// StorageError reports a file store or record store failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Code returns the API code for err.
func Code(err error) string {
	var (
		cfg      *ConfigurationError
		val      *ValidationError
		meta     *MetadataCollisionError
		timeout  *TransformTimeoutError
		tf       *TransformError
		storeErr *StorageError
	)
	switch {
	case errors.As(err, &val):
		return val.Code
	case errors.As(err, &meta):
		return CodeMetadataCollision
	case errors.As(err, &cfg):
		return CodeConfiguration
	case errors.As(err, &timeout):
		return CodeTransformTimeout
	case errors.As(err, &tf):
		return CodeTransform
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.As(err, &storeErr):
		return CodeStorage
	}
	return "server/internal_error"
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch Code(err) {
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case CodeValidation, CodeDimensionsTooSmall, CodeInvalidDimensions, CodeMetadataCollision:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransformTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// IsRejection reports whether err belongs to the validation family: the
// upload was refused before any file was written.
func IsRejection(err error) bool {
	var (
		cfg  *ConfigurationError
		val  *ValidationError
		meta *MetadataCollisionError
	)
	return errors.As(err, &cfg) || errors.As(err, &val) || errors.As(err, &meta)
}
