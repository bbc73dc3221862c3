package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"speedchat-backend/internal/llm"
)

func TestClassifyError(t *testing.T) {
	rateLimited := &llm.ProviderCallError{Provider: "openai", StatusCode: 429, Message: "rate limited"}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "retry exhausted unwraps the provider error",
			err:  &llm.RetryExhaustedError{Attempts: 3, LastErr: rateLimited},
			want: "Error: rate limited",
		},
		{
			name: "retry exhausted with wrapped last error",
			err:  &llm.RetryExhaustedError{Attempts: 2, LastErr: fmt.Errorf("stream: %w", rateLimited)},
			want: "Error: rate limited",
		},
		{
			name: "retry exhausted falls back to the message tail",
			err:  &llm.RetryExhaustedError{Msg: "Failed after 3 attempts. Last error: upstream overloaded"},
			want: "Error: upstream overloaded",
		},
		{
			name: "retry exhausted without a tail keeps its own message",
			err:  &llm.RetryExhaustedError{Msg: "gave up"},
			want: "Error: gave up",
		},
		{
			name: "provider error passes through",
			err:  fmt.Errorf("open stream: %w", &llm.ProviderCallError{StatusCode: 400, Message: "invalid request: max_tokens"}),
			want: "Error: invalid request: max_tokens",
		},
		{
			name: "configuration error",
			err:  &llm.ConfigurationError{Msg: `unknown model "x"`},
			want: `Error: unknown model "x"`,
		},
		{
			name: "anything else",
			err:  errors.New("socket closed"),
			want: unknownErrorMessage,
		},
		{
			name: "nil",
			want: unknownErrorMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
