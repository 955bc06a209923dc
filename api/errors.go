package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/storage"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError(err error) *ApiError {
	msg := lower(http.StatusText(http.StatusBadRequest))
	if err != nil {
		msg = err.Error()
	}
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
		Err:        err,
	}
}

func NewNotFoundError(msg string) *ApiError {
	if msg == "" {
		msg = lower(http.StatusText(http.StatusNotFound))
	}
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    msg,
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// errorFor maps a repository error onto the response sent to the client.
// Storage failures are not described to the client.
func errorFor(err error) *ApiError {
	var apiErr *ApiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, core.ErrInvalidInput):
		return NewBadRequestError(err)
	case errors.Is(err, storage.ErrRoomMetaNotFound):
		return NewNotFoundError("room not found")
	case errors.Is(err, storage.ErrNotFound):
		return NewNotFoundError("")
	default:
		return NewInternalServerError(err)
	}
}
