package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"

	"speedchat-backend/internal/model"
	"speedchat-backend/pkg/logger"
)

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// WithRetry retries opening a stream on retryable provider errors. Once the
// first chunk has been handed out nothing is retried.
func WithRetry(inner ChatModel, policy RetryPolicy) ChatModel {
	if policy.MaxAttempts <= 1 {
		return inner
	}
	return &retryingChatModel{inner: inner, policy: policy, sleep: sleepCtx}
}

type retryingChatModel struct {
	inner  ChatModel
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func (m *retryingChatModel) Stream(ctx context.Context, req *Request) (*schema.StreamReader[*model.Chunk], error) {
	var sr *schema.StreamReader[*model.Chunk]
	err := m.do(ctx, func() error {
		var err error
		sr, err = m.inner.Stream(ctx, req)
		return err
	})
	return sr, err
}

func (m *retryingChatModel) Generate(ctx context.Context, req *Request) (string, *model.TokenUsage, error) {
	var (
		text  string
		usage *model.TokenUsage
	)
	err := m.do(ctx, func() error {
		var err error
		text, usage, err = m.inner.Generate(ctx, req)
		return err
	})
	return text, usage, err
}

func (m *retryingChatModel) do(ctx context.Context, call func() error) error {
	var last error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		last = err
		logger.Warnf("Model call attempt %d/%d failed: %v", attempt, m.policy.MaxAttempts, err)
		if attempt == m.policy.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, m.policy.Backoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return &RetryExhaustedError{Attempts: m.policy.MaxAttempts, LastErr: last}
}

func isRetryable(err error) bool {
	var pe *ProviderCallError
	return errors.As(err, &pe) && pe.Retryable()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
