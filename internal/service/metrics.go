package service

import (
	"time"

	"speedchat-backend/internal/model"
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// MetricsCollector taps one turn's chunk stream. It is not safe for
// concurrent use; the orchestrator owns it.
type MetricsCollector struct {
	now   Clock
	start time.Time

	firstToken     time.Time
	reasoningStart time.Time
	reasoningEnd   time.Time
	usage          model.TokenUsage

	snapshot *model.MessageMetadata
}

func NewMetricsCollector(now Clock) *MetricsCollector {
	if now == nil {
		now = time.Now
	}
	return &MetricsCollector{now: now, start: now()}
}

func (m *MetricsCollector) Observe(c *model.Chunk) {
	if c == nil {
		return
	}
	switch c.Type {
	case model.ChunkTextDelta, model.ChunkReasoningDelta, model.ChunkToolCall:
		if m.firstToken.IsZero() {
			m.firstToken = m.firstTokenAt(c)
		}
	}

	switch c.Type {
	case model.ChunkReasoningDelta:
		if m.reasoningStart.IsZero() {
			m.reasoningStart = m.now()
		}
	case model.ChunkTextDelta:
		// Only the first reasoning to text transition is measured.
		if !m.reasoningStart.IsZero() && m.reasoningEnd.IsZero() {
			m.reasoningEnd = m.now()
		}
	case model.ChunkFinish, model.ChunkStepFinish:
		m.usage.Add(c.Usage)
	}
}

// firstTokenAt prefers a tool call's upstream arrival time when it falls
// inside this stream.
func (m *MetricsCollector) firstTokenAt(c *model.Chunk) time.Time {
	now := m.now()
	if c.Type == model.ChunkToolCall && !c.StartedAt.IsZero() &&
		!c.StartedAt.Before(m.start) && c.StartedAt.Before(now) {
		return c.StartedAt
	}
	return now
}

func (m *MetricsCollector) Usage() model.TokenUsage {
	return m.usage
}

// Snapshot freezes the metrics on first call; later calls return the same
// values.
func (m *MetricsCollector) Snapshot(modelName string) *model.MessageMetadata {
	if m.snapshot != nil {
		out := *m.snapshot
		return &out
	}

	finish := m.now()
	elapsed := finish.Sub(m.start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	total := m.usage.TotalTokens
	if total == 0 {
		total = m.usage.PromptTokens + m.usage.CompletionTokens
	}

	md := &model.MessageMetadata{
		ModelName:        modelName,
		ElapsedTimeMs:    elapsed,
		TotalTokens:      total,
		PromptTokens:     m.usage.PromptTokens,
		CompletionTokens: m.usage.CompletionTokens,
		TokensPerSecond:  tokensPerSecond(total, elapsed),
	}
	if !m.firstToken.IsZero() {
		md.TimeToFirstTokenMs = m.firstToken.Sub(m.start).Milliseconds()
	}
	if !m.reasoningStart.IsZero() {
		end := m.reasoningEnd
		if end.IsZero() {
			end = finish
		}
		d := end.Sub(m.reasoningStart).Milliseconds()
		md.ReasoningDurationMs = &d
	}

	m.snapshot = md
	out := *md
	return &out
}

func tokensPerSecond(totalTokens int, elapsedMs int64) float64 {
	if totalTokens <= 0 || elapsedMs <= 0 {
		return 0
	}
	return float64(totalTokens) / (float64(elapsedMs) / 1000)
}
