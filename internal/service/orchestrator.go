package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
	"speedchat-backend/internal/tools"
	"speedchat-backend/pkg/logger"
)

// Transport is where a turn's chunks and side-channel events go.
type Transport interface {
	SendChunk(c *model.Chunk) error
	SendEvent(event string, payload interface{}) error
}

// ToolProvider returns the tools bound to one turn.
type ToolProvider interface {
	Tools(ctx context.Context, userID string, searchWeb bool) ([]tool.InvokableTool, error)
}

type OrchestratorConfig struct {
	DefaultModel  string
	MaxSteps      int
	StreamTimeout time.Duration
	EnableMemory  bool
	Prompt        PromptBuilder
}

type Orchestrator struct {
	store     storage.Storage
	usage     storage.UsageStore
	resolver  ModelResolver
	tools     ToolProvider
	titles    *TitleGenerator
	persister *TurnPersister
	active    *ActiveTurns
	cfg       OrchestratorConfig
	now       Clock
	tracer    trace.Tracer
}

func NewOrchestrator(
	store storage.Storage,
	usage storage.UsageStore,
	resolver ModelResolver,
	toolProvider ToolProvider,
	titles *TitleGenerator,
	persister *TurnPersister,
	active *ActiveTurns,
	cfg OrchestratorConfig,
	now Clock,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	// One step to call tools, one to answer. A forced search must never
	// land on the tool-less final step.
	if cfg.MaxSteps < 2 {
		cfg.MaxSteps = 2
	}
	if usage == nil {
		usage = store
	}
	return &Orchestrator{
		store:     store,
		usage:     usage,
		resolver:  resolver,
		tools:     toolProvider,
		titles:    titles,
		persister: persister,
		active:    active,
		cfg:       cfg,
		now:       now,
		tracer:    otel.Tracer("speedchat-backend/internal/service"),
	}
}

// Turn is a validated, resolved request ready to stream.
type Turn struct {
	UserID      string
	Chat        model.Chat
	IsNewChat   bool
	History     []*model.Message
	Handle      *llm.Handle
	AssistantID string
	SearchWeb   bool

	memories []*model.Memory
	tools    []tool.InvokableTool
}

// Prepare validates the request and resolves the model. Every error it
// returns happens before any model call and nothing is written.
func (o *Orchestrator) Prepare(ctx context.Context, userID string, req *model.ChatRequest) (*Turn, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if req == nil || req.ChatID == "" {
		return nil, fmt.Errorf("%w: chatId is required", ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyHistory
	}
	for _, m := range req.Messages {
		if m == nil || m.ID == "" {
			return nil, fmt.Errorf("%w: every message needs an id", ErrInvalidRequest)
		}
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, m.Role)
		}
	}
	if req.Messages[len(req.Messages)-1].Role != model.RoleUser {
		return nil, fmt.Errorf("%w: last message must be from the user", ErrInvalidRequest)
	}

	turn := &Turn{
		UserID:      userID,
		History:     req.Messages,
		AssistantID: model.NewMessageID(model.RoleAssistant),
		SearchWeb:   req.ShouldSearchWeb,
	}

	chat, err := o.store.GetChat(ctx, req.ChatID)
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		turn.IsNewChat = true
		turn.Chat = model.Chat{ID: req.ChatID, UserID: userID, Title: model.DefaultChatTitle}
	case err != nil:
		return nil, fmt.Errorf("load chat: %w", err)
	case chat.UserID != userID:
		return nil, ErrForbidden
	default:
		turn.Chat = *chat
	}

	modelID := req.Model
	if modelID == "" {
		modelID = o.cfg.DefaultModel
	}
	turn.Handle, err = o.resolver.Resolve(ctx, llm.ResolveRequest{
		ModelID:            modelID,
		ReasoningEffort:    req.ReasoningEffort,
		ShouldUseReasoning: req.ShouldUseReasoning,
		ShouldSearchWeb:    req.ShouldSearchWeb,
		HasFiles:           hasFiles(req.Messages),
	})
	if err != nil {
		return nil, err
	}

	if turn.Handle.Chat != nil {
		if o.cfg.EnableMemory {
			if turn.memories, err = o.store.ListMemories(ctx, userID); err != nil {
				logger.Warnf("Failed to load memories for user %s: %v", userID, err)
			}
		}
		if o.tools != nil {
			if turn.tools, err = o.tools.Tools(ctx, userID, req.ShouldSearchWeb); err != nil {
				return nil, fmt.Errorf("load tools: %w", err)
			}
		}
	}
	return turn, nil
}

// titleWatch tracks the background title generation of a new chat.
type titleWatch struct {
	ch     <-chan TitleResult
	result TitleResult
	done   bool
	sent   bool
}

func (w *titleWatch) pending() <-chan TitleResult {
	if w == nil || w.done {
		return nil
	}
	return w.ch
}

func (w *titleWatch) resolve(r TitleResult, ok bool) {
	w.done = true
	if ok {
		w.result = r
	} else {
		w.result = TitleResult{Title: model.DefaultChatTitle}
	}
}

// turnRun is the mutable state of one Run.
type turnRun struct {
	turn      *Turn
	transport Transport
	metrics   *MetricsCollector
	parts     model.PartsAssembler
	title     *titleWatch
	log       *logrus.Entry
}

// errTransportClosed marks a chunk the client could not receive. The turn
// is treated as aborted.
var errTransportClosed = errors.New("transport closed")

func (r *turnRun) emit(c *model.Chunk) error {
	r.metrics.Observe(c)
	if c.Type == model.ChunkFinish {
		// The turn's timings end with the model stream.
		r.metrics.Snapshot(r.turn.Handle.Spec.ID)
	}
	r.parts.Add(*c)
	if err := r.transport.SendChunk(c); err != nil {
		return fmt.Errorf("%w: %v", errTransportClosed, err)
	}
	return nil
}

func (r *turnRun) sendTitle() {
	w := r.title
	if w == nil || !w.done || w.sent || !w.result.Generated {
		return
	}
	w.sent = true
	if err := r.transport.SendEvent(model.EventTitle, model.TitleEvent{
		ChatID:    r.turn.Chat.ID,
		Title:     w.result.Title,
		Transient: true,
	}); err != nil {
		r.log.Debugf("Title event not delivered: %v", err)
	}
}

// Run streams the turn to transport and persists the outcome. An aborted
// turn writes nothing; a failed turn is stored with the classified error
// as the assistant's reply.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, transport Transport) error {
	ctx, span := o.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.id", turn.Chat.ID),
		attribute.String("chat.model", turn.Handle.Spec.ID),
		attribute.Bool("chat.new", turn.IsNewChat),
		attribute.Bool("chat.search_web", turn.SearchWeb),
	))
	defer span.End()

	ctx, release := o.active.Register(ctx, turn.UserID, turn.Chat.ID)
	defer release()

	run := &turnRun{
		turn:      turn,
		transport: transport,
		metrics:   NewMetricsCollector(o.now),
		log: logger.WithFields(map[string]interface{}{
			"chat_id": turn.Chat.ID,
			"model":   turn.Handle.Spec.ID,
		}),
	}
	run.log.WithField("turn_state", "streaming").Info("Starting chat turn")

	if err := transport.SendEvent(model.EventStart, model.StartEvent{
		ChatID:    turn.Chat.ID,
		MessageID: turn.AssistantID,
	}); err != nil {
		run.log.WithField("turn_state", "aborted").Infof("Client gone before start: %v", err)
		return nil
	}

	if turn.IsNewChat && o.titles != nil {
		run.title = &titleWatch{ch: o.titles.Start(ctx, turn.Chat, lastUserText(turn.History))}
	}

	streamCtx := ctx
	if o.cfg.StreamTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, o.cfg.StreamTimeout)
		defer cancel()
	}

	err := o.stream(streamCtx, run)
	if ctx.Err() != nil || errors.Is(err, errTransportClosed) {
		// Client disconnect or explicit stop.
		cause := context.Cause(ctx)
		if cause == nil {
			cause = err
		}
		run.log.WithField("turn_state", "aborted").Infof("Chat turn aborted: %v", cause)
		span.SetAttributes(attribute.String("chat.outcome", "aborted"))
		return nil
	}

	failed := err != nil
	if failed {
		msg := ClassifyError(err)
		run.log.WithField("turn_state", "failed").Errorf("Chat turn failed: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)

		run.parts.AppendText(msg)
		if sendErr := transport.SendChunk(&model.Chunk{Type: model.ChunkTextDelta, Delta: msg}); sendErr == nil {
			_ = transport.SendEvent(model.EventError, model.ErrorEvent{Message: msg})
		}
	}

	o.finalize(ctx, run, failed)
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, run *turnRun, failed bool) {
	turn := run.turn
	md := run.metrics.Snapshot(turn.Handle.Spec.ID)

	// Only the commit waits for the title.
	if w := run.title; w != nil && !w.done {
		r, ok := <-w.ch
		w.resolve(r, ok)
	}

	assistant := &model.Message{
		ID:        turn.AssistantID,
		ChatID:    turn.Chat.ID,
		Role:      model.RoleAssistant,
		Parts:     run.parts.Parts(),
		Metadata:  md,
		CreatedAt: o.now(),
	}

	chat := turn.Chat
	if run.title != nil && run.title.result.Generated {
		chat.Title = run.title.result.Title
	}

	commitCtx := context.WithoutCancel(ctx)
	if err := o.persister.CommitTurn(commitCtx, TurnRecord{
		Chat:      chat,
		History:   turn.History,
		Assistant: assistant,
	}); err != nil {
		run.log.WithField("turn_state", "finalizing").Errorf("Failed to persist turn: %v", err)
	}

	delta := model.Usage{
		PromptTokens:     int64(md.PromptTokens),
		CompletionTokens: int64(md.CompletionTokens),
		MessagesSent:     1,
	}
	if turn.IsNewChat {
		delta.ChatsCreated = 1
	}
	if err := o.usage.IncrementUsage(commitCtx, turn.UserID, delta); err != nil {
		run.log.Errorf("Failed to record usage: %v", err)
	}

	run.sendTitle()
	if failed {
		run.log.WithField("turn_state", "failed").Info("Failed turn recorded")
		return
	}
	if err := run.transport.SendEvent(model.EventMetadata, md); err != nil {
		run.log.Debugf("Metadata event not delivered: %v", err)
	}
	run.log.WithFields(logrus.Fields{
		"turn_state":   "committed",
		"total_tokens": md.TotalTokens,
		"elapsed_ms":   md.ElapsedTimeMs,
	}).Info("Chat turn committed")
}

func (o *Orchestrator) stream(ctx context.Context, run *turnRun) error {
	h := run.turn.Handle
	if h.Image != nil {
		return o.streamImage(ctx, run)
	}
	if h.Chat == nil {
		return &llm.ConfigurationError{Msg: "model " + h.Spec.ID + " has no chat handle"}
	}

	byName := make(map[string]tool.InvokableTool, len(run.turn.tools))
	infos := make([]*schema.ToolInfo, 0, len(run.turn.tools))
	for _, t := range run.turn.tools {
		info, err := t.Info(ctx)
		if err != nil {
			return fmt.Errorf("tool info: %w", err)
		}
		byName[info.Name] = t
		infos = append(infos, info)
	}

	msgs := run.turn.buildPrompt(o.cfg.Prompt, o.now())
	for step := 0; step < o.cfg.MaxSteps; step++ {
		req := &llm.Request{Messages: msgs, Options: h.Options}
		last := step == o.cfg.MaxSteps-1
		if !last {
			req.Tools = stepTools(infos, h.Options.ToolChoice, step)
		}
		if step > 0 || len(req.Tools) == 0 {
			req.Options.ToolChoice = llm.ToolChoiceAuto
		}

		sr, err := h.Chat.Stream(ctx, req)
		if err != nil {
			return err
		}
		res, err := o.consume(ctx, run, sr)
		if err != nil {
			return err
		}

		if len(res.calls) == 0 || len(req.Tools) == 0 {
			res.finish.Type = model.ChunkFinish
			return run.emit(res.finish)
		}
		res.finish.Type = model.ChunkStepFinish
		if err := run.emit(res.finish); err != nil {
			return err
		}

		msgs = append(msgs, schema.AssistantMessage(res.text, res.calls))
		for _, call := range res.calls {
			result := o.invokeTool(ctx, run, byName, call)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := run.emit(&model.Chunk{
				Type:       model.ChunkToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Result:     result,
			}); err != nil {
				return err
			}
			msgs = append(msgs, schema.ToolMessage(result, call.ID))
		}
	}
	return nil
}

// stepTools narrows a forced-search first step to the search tool so the
// required tool choice cannot be satisfied by another tool.
func stepTools(infos []*schema.ToolInfo, choice llm.ToolChoice, step int) []*schema.ToolInfo {
	if step > 0 || choice != llm.ToolChoiceRequired {
		return infos
	}
	for _, info := range infos {
		if info.Name == tools.WebSearchToolName {
			return []*schema.ToolInfo{info}
		}
	}
	return infos
}

func (t *Turn) buildPrompt(b PromptBuilder, now time.Time) []*schema.Message {
	return b.Build(t.History, t.memories, now)
}

type stepResult struct {
	text   string
	calls  []schema.ToolCall
	finish *model.Chunk
}

type recvResult struct {
	chunk *model.Chunk
	err   error
}

// consume forwards one step's chunks in receipt order. The finish chunk is
// held back and returned so the caller can decide whether the turn ends.
func (o *Orchestrator) consume(ctx context.Context, run *turnRun, sr *schema.StreamReader[*model.Chunk]) (*stepResult, error) {
	defer sr.Close()

	recv := make(chan recvResult)
	go func() {
		defer close(recv)
		for {
			c, err := sr.Recv()
			select {
			case recv <- recvResult{chunk: c, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	res := &stepResult{}
	var text []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case r, ok := <-run.title.pending():
			run.title.resolve(r, ok)
			run.sendTitle()

		case r, ok := <-recv:
			if !ok {
				return nil, ctx.Err()
			}
			if errors.Is(r.err, io.EOF) {
				if res.finish == nil {
					res.finish = &model.Chunk{Type: model.ChunkFinish, FinishReason: "stop"}
				}
				res.text = string(text)
				return res, nil
			}
			if r.err != nil {
				return nil, r.err
			}
			c := r.chunk
			if c == nil {
				continue
			}
			switch c.Type {
			case model.ChunkFinish, model.ChunkStepFinish:
				res.finish = c
				continue
			case model.ChunkTextDelta:
				text = append(text, c.Delta...)
			case model.ChunkToolCall:
				res.calls = append(res.calls, schema.ToolCall{
					ID:       c.ToolCallID,
					Type:     "function",
					Function: schema.FunctionCall{Name: c.ToolName, Arguments: c.Args},
				})
			}
			if err := run.emit(c); err != nil {
				return nil, err
			}
		}
	}
}

func (o *Orchestrator) invokeTool(ctx context.Context, run *turnRun, byName map[string]tool.InvokableTool, call schema.ToolCall) string {
	t, ok := byName[call.Function.Name]
	if !ok {
		run.log.Warnf("Model called unknown tool %s", call.Function.Name)
		return `{"error":"unknown tool"}`
	}
	start := o.now()
	out, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		run.log.Warnf("Tool %s failed: %v", call.Function.Name, err)
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if isErr, res := tools.IsMCPErrorResult(out); isErr {
		run.log.Warnf("MCP tool %s reported: %s", res.ToolName, res.ErrorMessage)
	}
	run.log.Debugf("Tool %s finished in %s", call.Function.Name, o.now().Sub(start))
	return out
}

func (o *Orchestrator) streamImage(ctx context.Context, run *turnRun) error {
	prompt := lastUserText(run.turn.History)
	if prompt == "" {
		return ErrEmptyHistory
	}
	file, usage, err := run.turn.Handle.Image.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}
	if err := run.emit(&model.Chunk{Type: model.ChunkFile, File: file}); err != nil {
		return err
	}
	return run.emit(&model.Chunk{Type: model.ChunkFinish, FinishReason: "stop", Usage: usage})
}

// Stop cancels the user's streaming turn on chatID.
func (o *Orchestrator) Stop(userID, chatID string) error {
	return o.active.Stop(userID, chatID)
}
