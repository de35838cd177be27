package runservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/journal"
	"snipbridge/internal/llm"
	"snipbridge/internal/runstate"
)

const (
	defaultMaxTurns  = 10
	defaultRunTTL    = 10 * time.Minute
	defaultMaxTokens = 1024
)

var (
	// ErrModelRequired indicates an engine without a model.
	ErrModelRequired = errors.New("model is required")
	// ErrMaxTurnsExceeded indicates the model kept requesting tools past the turn limit.
	ErrMaxTurnsExceeded = errors.New("max turns exceeded")
)

// Run error codes reported in Run.LastError.
const (
	codeServerError = "server_error"
	codeMaxTurns    = "max_turns_exceeded"
	codeExpired     = "expired"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// EngineConfig configures run execution.
type EngineConfig struct {
	Model llm.Model
	// ModelName overrides the agent's model name when set.
	ModelName  string
	MaxTurns   int
	MaxTokens  int
	RunTTL     time.Duration
	HTTPClient *http.Client
	Journal    *journal.Store
	Logger     *slog.Logger
}

// Engine executes runs in background goroutines, one per run.
type Engine struct {
	store      *Store
	model      llm.Model
	modelName  string
	maxTurns   int
	maxTokens  int
	ttl        time.Duration
	dispatcher *dispatcher
	journal    *journal.Store
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine wires an engine to store.
func NewEngine(store *Store, cfg EngineConfig) (*Engine, error) {
	if cfg.Model == nil {
		return nil, ErrModelRequired
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	ttl := cfg.RunTTL
	if ttl <= 0 {
		ttl = defaultRunTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		model:      cfg.Model,
		modelName:  cfg.ModelName,
		maxTurns:   maxTurns,
		maxTokens:  maxTokens,
		ttl:        ttl,
		dispatcher: newDispatcher(cfg.HTTPClient),
		journal:    cfg.Journal,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// TTL is the lifetime given to each run.
func (e *Engine) TTL() time.Duration { return e.ttl }

// Start executes a queued run in the background.
func (e *Engine) Start(run agentrun.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), e.ttl)

	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.cancels, run.ID)
			e.mu.Unlock()
		}()
		e.execute(ctx, run)
	}()
}

// Cancel marks the run cancelled and stops its execution.
func (e *Engine) Cancel(threadID, runID string) (agentrun.Run, error) {
	current, err := e.store.Run(threadID, runID)
	if err != nil {
		return agentrun.Run{}, err
	}
	if runstate.IsTerminal(current.Status) {
		return agentrun.Run{}, fmt.Errorf("%w: run %s is already %s", runstate.ErrInvalidTransition, runID, current.Status)
	}
	run, err := e.transition(runID, runstate.StatusCancelled, nil)
	if err != nil {
		return agentrun.Run{}, err
	}

	e.mu.Lock()
	cancel := e.cancels[runID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return run, nil
}

// Close cancels every active run and waits for their goroutines.
func (e *Engine) Close() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Wait blocks until every started run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) execute(ctx context.Context, run agentrun.Run) {
	logger := e.logger.With("run_id", run.ID, "thread_id", run.ThreadID)

	agent, err := e.store.Agent(run.AssistantID)
	if err != nil {
		e.finish(logger, run.ID, err)
		return
	}
	if _, err := e.transition(run.ID, runstate.StatusInProgress, nil); err != nil {
		logger.Info("run not started", "err", err)
		return
	}

	req, err := e.buildRequest(run, agent)
	if err != nil {
		e.finish(logger, run.ID, err)
		return
	}
	e.finish(logger, run.ID, e.loop(ctx, logger, run, agent, req))
}

// loop alternates model turns and tool dispatch until the model answers
// without tool calls.
func (e *Engine) loop(ctx context.Context, logger *slog.Logger, run agentrun.Run, agent agentrun.Agent, req *llm.Request) error {
	for turn := 0; turn < e.maxTurns; turn++ {
		resp, err := e.model.Complete(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil {
			return errors.New("model returned no response")
		}
		e.store.RecordUsage(run.ID, resp.Usage.InputTokens+resp.Usage.CacheReadTokens+resp.Usage.CacheWriteTokens, resp.Usage.OutputTokens)
		req.Messages = append(req.Messages, resp.Message)

		if resp.HasToolCalls() {
			results, err := e.dispatchToolCalls(ctx, logger, run, agent, resp.Message.ToolCalls)
			if err != nil {
				return err
			}
			req.Messages = append(req.Messages, results...)
			continue
		}
		return e.complete(run, resp.Message.Text())
	}
	return ErrMaxTurnsExceeded
}

func (e *Engine) dispatchToolCalls(
	ctx context.Context,
	logger *slog.Logger,
	run agentrun.Run,
	agent agentrun.Agent,
	calls []llm.ToolCall,
) ([]llm.Message, error) {
	recorded := make([]agentrun.ToolCall, 0, len(calls))
	for _, call := range calls {
		decl, _ := findTool(agent.Tools, call.Name)
		recorded = append(recorded, agentrun.ToolCall{
			ID:          call.ID,
			Type:        agentrun.ToolTypeHTTPFunction,
			ServerLabel: decl.ServerLabel,
			Name:        call.Name,
			Arguments:   argumentsText(call.Arguments),
		})
	}
	step, err := e.store.AddStep(run.ID, agentrun.StepDetails{
		Type:      agentrun.StepToolCalls,
		ToolCalls: recorded,
	}, agentrun.StepInProgress)
	if err != nil {
		return nil, err
	}
	e.record(run.ID, journal.Entry{Type: journal.TypeStep, StepID: step.ID, Content: string(agentrun.StepToolCalls)})

	if _, err := e.transition(run.ID, runstate.StatusRequiresAction, nil); err != nil {
		return nil, err
	}

	results := make([]llm.Message, 0, len(calls))
	for i, call := range calls {
		output, isError, err := e.callTool(ctx, agent.Tools, call)
		if err != nil {
			return nil, err
		}
		idx := i
		if err := e.store.UpdateStep(run.ID, step.ID, func(s *agentrun.RunStep) {
			s.StepDetails.ToolCalls[idx].Output = &output
		}); err != nil {
			return nil, err
		}

		entryType := journal.TypeToolCall
		if isError {
			entryType = journal.TypeToolError
			logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "output", output)
		} else {
			logger.Info("tool call", "tool", call.Name, "call_id", call.ID)
		}
		e.record(run.ID, journal.Entry{Type: entryType, StepID: step.ID, Tool: call.Name, Content: output, Data: call.Arguments})

		results = append(results, llm.Message{
			Role: llm.RoleTool,
			ToolResult: &llm.ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    output,
				IsError:    isError,
			},
		})
	}

	if err := e.store.UpdateStep(run.ID, step.ID, func(s *agentrun.RunStep) {
		s.Status = agentrun.StepCompleted
	}); err != nil {
		return nil, err
	}
	if _, err := e.transition(run.ID, runstate.StatusInProgress, nil); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) callTool(ctx context.Context, decls []agentrun.ToolDeclaration, call llm.ToolCall) (string, bool, error) {
	decl, ok := findTool(decls, call.Name)
	if !ok {
		return fmt.Sprintf("tool %q is not declared", call.Name), true, nil
	}
	return e.dispatcher.call(ctx, decl, call.Arguments)
}

func (e *Engine) complete(run agentrun.Run, text string) error {
	msg, err := e.store.AppendRunMessage(run.ID, text)
	if err != nil {
		return err
	}
	step, err := e.store.AddStep(run.ID, agentrun.StepDetails{
		Type:            agentrun.StepMessageCreation,
		MessageCreation: &agentrun.MessageCreation{MessageID: msg.ID},
	}, agentrun.StepCompleted)
	if err != nil {
		return err
	}
	e.record(run.ID, journal.Entry{Type: journal.TypeMessage, StepID: step.ID, MessageID: msg.ID, Content: text})

	_, err = e.transition(run.ID, runstate.StatusCompleted, nil)
	return err
}

// finish moves the run to the terminal status matching err. A run that is
// already terminal, for example after a cancel request, is left alone.
func (e *Engine) finish(logger *slog.Logger, runID string, err error) {
	if err == nil {
		return
	}

	var (
		status  runstate.Status
		lastErr *agentrun.RunError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = runstate.StatusExpired
		lastErr = &agentrun.RunError{Code: codeExpired, Message: "run expired before completion"}
	case errors.Is(err, context.Canceled):
		status = runstate.StatusCancelled
	case errors.Is(err, ErrMaxTurnsExceeded):
		status = runstate.StatusFailed
		lastErr = &agentrun.RunError{Code: codeMaxTurns, Message: err.Error()}
	default:
		status = runstate.StatusFailed
		lastErr = &agentrun.RunError{Code: codeServerError, Message: err.Error()}
	}

	current, getErr := e.store.Run("", runID)
	if getErr == nil && runstate.IsTerminal(current.Status) {
		logger.Info("run stopped", "status", current.Status, "cause", err)
		return
	}
	if _, tErr := e.transition(runID, status, lastErr); tErr != nil {
		logger.Error("finish run", "status", status, "err", tErr, "cause", err)
		return
	}
	if status == runstate.StatusFailed {
		logger.Error("run failed", "err", err)
	} else {
		logger.Info("run stopped", "status", status)
	}
}

func (e *Engine) transition(runID string, to runstate.Status, lastErr *agentrun.RunError) (agentrun.Run, error) {
	run, from, err := e.store.Transition(runID, to, lastErr)
	if err != nil {
		return agentrun.Run{}, err
	}
	if from != to {
		e.record(runID, journal.Entry{Type: journal.TypeStatus, From: string(from), To: string(to)})
	}
	return run, nil
}

func (e *Engine) record(runID string, entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(context.Background(), runID, entry); err != nil {
		e.logger.Warn("append run journal", "run_id", runID, "err", err)
	}
}

func (e *Engine) buildRequest(run agentrun.Run, agent agentrun.Agent) (*llm.Request, error) {
	messages, err := e.store.Messages(run.ThreadID)
	if err != nil {
		return nil, err
	}

	req := &llm.Request{
		Model:     agent.Model,
		System:    agent.Instructions,
		MaxTokens: e.maxTokens,
		Metadata:  map[string]string{"thread_id": run.ThreadID},
	}
	if e.modelName != "" {
		req.Model = e.modelName
	}
	for _, msg := range messages {
		role := llm.RoleUser
		if msg.Role == agentrun.RoleAssistant {
			role = llm.RoleAssistant
		}
		req.Messages = append(req.Messages, llm.TextMessage(role, msg.Text()))
	}
	for _, decl := range agent.Tools {
		schema := decl.Parameters
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		req.Tools = append(req.Tools, llm.ToolSpec{
			Name:        decl.Name,
			Description: decl.Description,
			Schema:      schema,
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = llm.ToolChoice{Type: llm.ToolChoiceAuto}
	}
	return req, nil
}

func findTool(decls []agentrun.ToolDeclaration, name string) (agentrun.ToolDeclaration, bool) {
	for _, decl := range decls {
		if decl.Name == name {
			return decl, true
		}
	}
	return agentrun.ToolDeclaration{}, false
}

func argumentsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
