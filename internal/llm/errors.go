package llm

import "fmt"

// ConfigurationError is raised before any network call: unknown model,
// missing credential, unsupported capability.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

func configErrorf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ProviderCallError carries the upstream's own error message.
type ProviderCallError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderCallError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *ProviderCallError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

type RetryExhaustedError struct {
	Attempts int
	LastErr  error
	Msg      string
}

func (e *RetryExhaustedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	last := "unknown"
	if e.LastErr != nil {
		last = e.LastErr.Error()
	}
	return fmt.Sprintf("Failed after %d attempts. Last error: %s", e.Attempts, last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }
