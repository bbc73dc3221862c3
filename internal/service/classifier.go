package service

import (
	"errors"
	"strings"

	"speedchat-backend/internal/llm"
)

const unknownErrorMessage = "An unknown error occurred. Please try again."

const lastErrorMarker = "Last error: "

// ClassifyError maps a failure to the text shown to the user and stored as
// the assistant's reply.
func ClassifyError(err error) string {
	if err == nil {
		return unknownErrorMessage
	}

	var retryErr *llm.RetryExhaustedError
	if errors.As(err, &retryErr) {
		return "Error: " + retryExhaustedMessage(retryErr)
	}

	var callErr *llm.ProviderCallError
	if errors.As(err, &callErr) {
		return "Error: " + callErr.Error()
	}

	var cfgErr *llm.ConfigurationError
	if errors.As(err, &cfgErr) {
		return "Error: " + cfgErr.Error()
	}

	return unknownErrorMessage
}

func retryExhaustedMessage(e *llm.RetryExhaustedError) string {
	if e.LastErr != nil {
		var callErr *llm.ProviderCallError
		if errors.As(e.LastErr, &callErr) {
			return callErr.Error()
		}
		if msg := e.LastErr.Error(); msg != "" {
			return msg
		}
	}
	msg := e.Error()
	if i := strings.LastIndex(msg, lastErrorMarker); i >= 0 {
		if tail := strings.TrimSpace(msg[i+len(lastErrorMarker):]); tail != "" {
			return tail
		}
	}
	return msg
}
