package main

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("e-mail is already registered")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrNoEmbedding        = errors.New("prediction server returned no embedding")
	ErrInvalidImage       = errors.New("only png and jpeg images are supported")
	ErrFileTooLarge       = errors.New("file too large")
	ErrNotFound           = errors.New("not found")
	ErrEmptyPrompt        = errors.New("prompt is empty")
	ErrForbiddenPath      = errors.New("path is outside of the user's folder")
)

// RemoteError is a non-2xx answer from one of the external services.
type RemoteError struct {
	Service string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: network response was not ok (%d)", e.Service, e.Status)
	}

	return fmt.Sprintf("%s: %s (%d)", e.Service, e.Message, e.Status)
}

func statusFor(err error) int {
	var remote *RemoteError

	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbiddenPath):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, ErrNoEmbedding):
		return http.StatusBadGateway
	case errors.As(err, &remote):
		if remote.Status == http.StatusUnauthorized || remote.Status == http.StatusForbidden {
			return remote.Status
		}

		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// messageFor returns the text shown to the user for err.
func messageFor(err error) string {
	var remote *RemoteError

	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}

	return err.Error()
}
