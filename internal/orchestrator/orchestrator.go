// Package orchestrator drives one agent run end to end: it declares the snippet
// tools to an agent, submits the user message, polls the run to a terminal
// status and cleans up afterwards.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/retry"
	"snipbridge/internal/runstate"
	"snipbridge/internal/tools"
)

const (
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 600
	defaultCleanupTimeout  = 30 * time.Second
	defaultAgentName       = "snippet-agent"
	defaultInstructions    = "You are a helpful agent that can use MCP tools to assist users. Use the available MCP tools to answer questions and perform tasks."
)

var (
	// ErrPollTimeout indicates the run did not reach a terminal status before the poll guard ran out.
	ErrPollTimeout = errors.New("run did not finish before the poll limit")
	// ErrRunNotCompleted indicates the run finished in a terminal status other than completed.
	ErrRunNotCompleted = errors.New("run did not complete")
	// ErrServiceRequired indicates a missing Agent-Run API client.
	ErrServiceRequired = errors.New("agent-run service is required")
	// ErrToolURLRequired indicates a missing tool server base URL.
	ErrToolURLRequired = errors.New("tool url is required")
	// ErrToolKeyRequired indicates a missing tool invocation key.
	ErrToolKeyRequired = errors.New("tool key is required")
	// ErrMessageRequired indicates an empty user message.
	ErrMessageRequired = errors.New("user message is required")
)

// Service is the subset of the Agent-Run API the orchestrator needs.
type Service interface {
	CreateAgent(ctx context.Context, req agentrun.CreateAgentRequest) (*agentrun.Agent, error)
	DeleteAgent(ctx context.Context, agentID string) error
	CreateThread(ctx context.Context) (*agentrun.Thread, error)
	CreateMessage(ctx context.Context, threadID string, req agentrun.CreateMessageRequest) (*agentrun.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]agentrun.Message, error)
	CreateRun(ctx context.Context, threadID string, req agentrun.CreateRunRequest) (*agentrun.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*agentrun.Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string) ([]agentrun.RunStep, error)
	CancelRun(ctx context.Context, threadID, runID string) (*agentrun.Run, error)
}

// Config configures an Orchestrator.
type Config struct {
	Model           string
	AgentName       string
	Instructions    string
	ToolLabel       string
	ToolURL         string
	ToolKey         string
	PollInterval    time.Duration
	MaxPollAttempts int
	CleanupTimeout  time.Duration
	Logger          *slog.Logger
}

// Orchestrator holds no per-run state; concurrent Run calls are independent.
type Orchestrator struct {
	service Service
	cfg     Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Session carries the identifiers created during one orchestration.
type Session struct {
	AgentID   string `json:"agent_id"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	RunID     string `json:"run_id"`
}

// Report summarizes one orchestration.
type Report struct {
	Session     Session               `json:"session"`
	Run         *agentrun.Run         `json:"run,omitempty"`
	Steps       []agentrun.RunStep    `json:"steps,omitempty"`
	Messages    []agentrun.Message    `json:"messages,omitempty"`
	Transitions []runstate.Transition `json:"transitions,omitempty"`
	PollCount   int                   `json:"poll_count"`
}

// ToolCalls returns every tool call recorded in the report's steps, in step order.
func (r *Report) ToolCalls() []agentrun.ToolCall {
	var calls []agentrun.ToolCall
	for _, step := range r.Steps {
		if step.Type != agentrun.StepToolCalls {
			continue
		}
		calls = append(calls, step.StepDetails.ToolCalls...)
	}
	return calls
}

// FinalAnswer returns the text of the last assistant message, if any.
func (r *Report) FinalAnswer() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == agentrun.RoleAssistant {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// New validates configuration and builds an orchestrator.
func New(service Service, cfg Config) (*Orchestrator, error) {
	if service == nil {
		return nil, ErrServiceRequired
	}
	cfg.ToolURL = strings.TrimRight(strings.TrimSpace(cfg.ToolURL), "/")
	if cfg.ToolURL == "" {
		return nil, ErrToolURLRequired
	}
	if _, err := url.Parse(cfg.ToolURL); err != nil {
		return nil, fmt.Errorf("parse tool url: %w", err)
	}
	cfg.ToolKey = strings.TrimSpace(cfg.ToolKey)
	if cfg.ToolKey == "" {
		return nil, ErrToolKeyRequired
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = defaultAgentName
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = defaultInstructions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		service: service,
		cfg:     cfg,
		logger:  logger,
		sleep:   retry.Sleep,
	}, nil
}

// ToolDeclarations builds the declarations for every tool the agent may call.
// The health tool is not declared.
func (o *Orchestrator) ToolDeclarations() []agentrun.ToolDeclaration {
	specs := tools.AgentToolSpecs()
	decls := make([]agentrun.ToolDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, agentrun.ToolDeclaration{
			Type:            agentrun.ToolTypeHTTPFunction,
			ServerLabel:     o.cfg.ToolLabel,
			Name:            spec.Name,
			Description:     spec.Description,
			Parameters:      spec.Schema,
			Endpoint:        o.toolEndpoint(spec.Name),
			RequireApproval: agentrun.ApprovalNever,
		})
	}
	return decls
}

func (o *Orchestrator) toolEndpoint(name string) string {
	return o.cfg.ToolURL + "/" + url.PathEscape(name) + "?code=" + url.QueryEscape(o.cfg.ToolKey)
}

// Run executes one orchestration for message. Cleanup runs even when ctx is
// cancelled. A run that ends failed, cancelled or expired is reported but is not
// an error; callers decide with Report.Run.Status.
func (o *Orchestrator) Run(ctx context.Context, message string) (*Report, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrMessageRequired
	}

	report := &Report{}
	runErr := o.execute(ctx, message, report)
	o.cleanup(ctx, report)

	if runErr != nil {
		o.logger.Error("orchestration failed", "agent_id", report.Session.AgentID, "run_id", report.Session.RunID, "err", runErr)
		return report, runErr
	}
	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, message string, report *Report) error {
	agent, err := o.service.CreateAgent(ctx, agentrun.CreateAgentRequest{
		Model:        o.cfg.Model,
		Name:         o.cfg.AgentName,
		Instructions: o.cfg.Instructions,
		Tools:        o.ToolDeclarations(),
	})
	if err != nil {
		return err
	}
	report.Session.AgentID = agent.ID
	o.logger.Info("created agent", "agent_id", agent.ID, "tools", len(agent.Tools))

	thread, err := o.service.CreateThread(ctx)
	if err != nil {
		return err
	}
	report.Session.ThreadID = thread.ID
	o.logger.Info("created thread", "thread_id", thread.ID)

	msg, err := o.service.CreateMessage(ctx, thread.ID, agentrun.CreateMessageRequest{
		Role:    agentrun.RoleUser,
		Content: message,
	})
	if err != nil {
		return err
	}
	report.Session.MessageID = msg.ID
	o.logger.Info("created message", "message_id", msg.ID)

	run, err := o.service.CreateRun(ctx, thread.ID, agentrun.CreateRunRequest{AssistantID: agent.ID})
	if err != nil {
		return err
	}
	report.Session.RunID = run.ID
	report.Run = run
	o.logger.Info("created run", "run_id", run.ID, "status", run.Status)

	return o.poll(ctx, report)
}

func (o *Orchestrator) poll(ctx context.Context, report *Report) error {
	run := report.Run
	tracker, err := runstate.NewTracker(run.Status)
	if err != nil {
		return err
	}
	defer func() {
		report.Transitions = tracker.Transitions()
	}()

	for !tracker.Done() {
		if report.PollCount >= o.cfg.MaxPollAttempts {
			o.cancelRemote(ctx, report.Session)
			return fmt.Errorf("%w: %d attempts, last status %s", ErrPollTimeout, report.PollCount, tracker.Current())
		}
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			o.cancelRemote(ctx, report.Session)
			return fmt.Errorf("%w: %w", ErrPollTimeout, err)
		}
		report.PollCount++

		next, err := o.service.GetRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				o.cancelRemote(ctx, report.Session)
				return fmt.Errorf("%w: %w", ErrPollTimeout, ctxErr)
			}
			return err
		}
		previous := tracker.Current()
		if err := tracker.Observe(next.Status); err != nil {
			return fmt.Errorf("observe run %s: %w", run.ID, err)
		}
		report.Run = next
		if next.Status != previous {
			o.logger.Info("run status", "run_id", run.ID, "from", previous, "to", next.Status)
		}
	}

	if report.Run.Status == runstate.StatusFailed {
		lastErr := report.Run.LastError
		if lastErr == nil {
			lastErr = &agentrun.RunError{}
		}
		o.logger.Error("run failed", "run_id", run.ID, "code", lastErr.Code, "message", lastErr.Message)
	}
	return nil
}

// cancelRemote is best effort: the run may already have finished.
func (o *Orchestrator) cancelRemote(ctx context.Context, session Session) {
	if session.ThreadID == "" || session.RunID == "" {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CleanupTimeout)
	defer cancel()
	if _, err := o.service.CancelRun(cleanupCtx, session.ThreadID, session.RunID); err != nil {
		o.logger.Warn("cancel run failed", "run_id", session.RunID, "err", err)
		return
	}
	o.logger.Info("cancelled run", "run_id", session.RunID)
}

func (o *Orchestrator) cleanup(ctx context.Context, report *Report) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CleanupTimeout)
	defer cancel()
	session := report.Session

	if session.ThreadID != "" && session.RunID != "" {
		steps, err := o.service.ListRunSteps(cleanupCtx, session.ThreadID, session.RunID)
		if err != nil {
			o.logger.Warn("list run steps failed", "run_id", session.RunID, "err", err)
		} else {
			report.Steps = steps
			for _, step := range steps {
				o.logger.Info("run step", "step_id", step.ID, "type", step.Type, "status", step.Status)
				for _, call := range step.StepDetails.ToolCalls {
					o.logger.Info("tool call", "call_id", call.ID, "tool", call.Name, "server_label", call.ServerLabel, "arguments", call.Arguments)
				}
			}
		}
	}

	if session.ThreadID != "" {
		messages, err := o.service.ListMessages(cleanupCtx, session.ThreadID)
		if err != nil {
			o.logger.Warn("list messages failed", "thread_id", session.ThreadID, "err", err)
		} else {
			report.Messages = messages
			if answer := report.FinalAnswer(); answer != "" {
				o.logger.Info("final answer", "thread_id", session.ThreadID, "text", answer)
			}
		}
	}

	if session.AgentID != "" {
		if err := o.service.DeleteAgent(cleanupCtx, session.AgentID); err != nil {
			o.logger.Warn("delete agent failed", "agent_id", session.AgentID, "err", err)
		} else {
			o.logger.Info("deleted agent", "agent_id", session.AgentID)
		}
	}
}

// CheckCompleted returns ErrRunNotCompleted unless the report's run completed.
func CheckCompleted(report *Report) error {
	if report == nil || report.Run == nil {
		return fmt.Errorf("%w: no run", ErrRunNotCompleted)
	}
	if report.Run.Status != runstate.StatusCompleted {
		return fmt.Errorf("%w: status %s", ErrRunNotCompleted, report.Run.Status)
	}
	return nil
}
