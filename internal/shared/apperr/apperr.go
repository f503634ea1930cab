// Package apperr holds the coded errors returned by the domain services and
// their translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"backend-safetrack/internal/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Code string

const (
	CodeNotFound      Code = "not_found"
	CodeConfigMissing Code = "config_missing"
	CodeDisabled      Code = "disabled"
	CodeConflict      Code = "conflict"
	CodeNotActive     Code = "not_active"
	CodeExpired       Code = "expired"
	CodeValidation    Code = "validation_failed"
	CodeInternal      Code = "internal_error"
)

// Error is a terminal, caller-facing failure. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConfigMissing = &Error{Code: CodeConfigMissing, Message: "anti-theft not configured"}
	ErrDisabled      = &Error{Code: CodeDisabled, Message: "anti-theft is disabled"}
	ErrConflict      = &Error{Code: CodeConflict, Message: "an active record already exists"}
	ErrNotActive     = &Error{Code: CodeNotActive, Message: "not active"}
	ErrExpired       = &Error{Code: CodeExpired, Message: "share link has expired"}
	ErrValidation    = &Error{Code: CodeValidation, Message: "validation failed"}
)

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

func NotActive(message string) *Error {
	return &Error{Code: CodeNotActive, Message: message}
}

func Validation(details ...string) *Error {
	return &Error{Code: CodeValidation, Message: "validation failed", Details: strings.Join(details, ", ")}
}

// CodeOf returns the code carried by err, or CodeInternal for anything that
// is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// FromValidation converts validator output into a validation error listing
// the offending fields. Other errors pass through.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return Validation(details...)
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound, CodeConfigMissing:
		return fiber.StatusNotFound
	case CodeDisabled, CodeNotActive:
		return fiber.StatusBadRequest
	case CodeConflict:
		return fiber.StatusConflict
	case CodeExpired:
		return fiber.StatusForbidden
	case CodeValidation:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders coded errors and fiber errors as JSON bodies.
// Infrastructure errors are reported without their message.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(Error{Code: codeForStatus(fe.Code), Message: fe.Message})
	}

	var e *Error
	if errors.As(err, &e) {
		return c.Status(HTTPStatus(e)).JSON(e)
	}
	logger.Error(err, zap.String("method", c.Method()), zap.String("path", c.Path()))
	return c.Status(fiber.StatusInternalServerError).JSON(Error{Code: CodeInternal, Message: "internal error"})
}

func codeForStatus(status int) Code {
	switch status {
	case fiber.StatusNotFound:
		return CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return CodeValidation
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	default:
		return CodeInternal
	}
}
