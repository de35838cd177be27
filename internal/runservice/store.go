// Package runservice is a self-hostable Agent-Run API. Runs are executed by a
// model turn loop that dispatches declared tools over HTTP.
package runservice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/runstate"
)

var (
	// ErrNotFound indicates an unknown agent, thread, run or step.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict indicates a request that conflicts with the thread's active run.
	ErrConflict = errors.New("conflict")
)

type threadState struct {
	thread    agentrun.Thread
	messages  []agentrun.Message
	activeRun string
}

type runRecord struct {
	run   agentrun.Run
	steps []agentrun.RunStep
}

// Store keeps every resource in memory. Returned values are copies.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	agents  map[string]agentrun.Agent
	threads map[string]*threadState
	runs    map[string]*runRecord
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:     time.Now,
		agents:  make(map[string]agentrun.Agent),
		threads: make(map[string]*threadState),
		runs:    make(map[string]*runRecord),
	}
}

func newID(prefix string) string {
	return prefix + "_" + ksuid.New().String()
}

func (s *Store) CreateAgent(req agentrun.CreateAgentRequest) agentrun.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent := agentrun.Agent{
		ID:           newID("asst"),
		Object:       "assistant",
		CreatedAt:    s.now().Unix(),
		Model:        req.Model,
		Name:         req.Name,
		Instructions: req.Instructions,
		Tools:        append([]agentrun.ToolDeclaration(nil), req.Tools...),
	}
	s.agents[agent.ID] = agent
	return cloneAgent(agent)
}

func (s *Store) Agent(id string) (agentrun.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return agentrun.Agent{}, fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	return cloneAgent(agent), nil
}

// DeleteAgent removes the agent. Runs already started keep their own copy.
func (s *Store) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	delete(s.agents, id)
	return nil
}

func (s *Store) CreateThread() agentrun.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := agentrun.Thread{ID: newID("thread"), Object: "thread", CreatedAt: s.now().Unix()}
	s.threads[thread.ID] = &threadState{thread: thread}
	return thread
}

// AppendUserMessage adds a user message. It is rejected while a run is active.
func (s *Store) AppendUserMessage(threadID, text string) (agentrun.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return agentrun.Message{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	if ts.activeRun != "" {
		return agentrun.Message{}, fmt.Errorf("%w: thread %s has active run %s", ErrConflict, threadID, ts.activeRun)
	}
	return s.appendMessageLocked(ts, agentrun.RoleUser, text, "", ""), nil
}

// AppendRunMessage adds an assistant message produced by the run.
func (s *Store) AppendRunMessage(runID, text string) (agentrun.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return agentrun.Message{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if runstate.IsTerminal(rec.run.Status) {
		return agentrun.Message{}, fmt.Errorf("%w: run %s is %s", ErrConflict, runID, rec.run.Status)
	}
	ts := s.threads[rec.run.ThreadID]
	return s.appendMessageLocked(ts, agentrun.RoleAssistant, text, runID, rec.run.AssistantID), nil
}

func (s *Store) appendMessageLocked(ts *threadState, role, text, runID, assistantID string) agentrun.Message {
	msg := agentrun.Message{
		ID:          newID("msg"),
		Object:      "thread.message",
		CreatedAt:   s.now().Unix(),
		ThreadID:    ts.thread.ID,
		RunID:       runID,
		AssistantID: assistantID,
		Role:        role,
		Content:     agentrun.TextContent(text),
	}
	ts.messages = append(ts.messages, msg)
	return cloneMessage(msg)
}

// Messages returns the thread's messages in creation order.
func (s *Store) Messages(threadID string) ([]agentrun.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	out := make([]agentrun.Message, 0, len(ts.messages))
	for _, msg := range ts.messages {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

// CreateRun queues a run. A thread holds at most one active run.
func (s *Store) CreateRun(threadID, agentID string, ttl time.Duration) (agentrun.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return agentrun.Run{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	agent, ok := s.agents[agentID]
	if !ok {
		return agentrun.Run{}, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	if ts.activeRun != "" {
		return agentrun.Run{}, fmt.Errorf("%w: thread %s has active run %s", ErrConflict, threadID, ts.activeRun)
	}

	now := s.now()
	run := agentrun.Run{
		ID:          newID("run"),
		Object:      "thread.run",
		CreatedAt:   now.Unix(),
		ThreadID:    threadID,
		AssistantID: agentID,
		Model:       agent.Model,
		Status:      runstate.StatusQueued,
	}
	if ttl > 0 {
		expires := now.Add(ttl).Unix()
		run.ExpiresAt = &expires
	}
	s.runs[run.ID] = &runRecord{run: run}
	ts.activeRun = run.ID
	return cloneRun(run), nil
}

// Run returns the run when it belongs to threadID.
func (s *Store) Run(threadID, runID string) (agentrun.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.runLocked(threadID, runID)
	if err != nil {
		return agentrun.Run{}, err
	}
	return cloneRun(rec.run), nil
}

func (s *Store) runLocked(threadID, runID string) (*runRecord, error) {
	rec, ok := s.runs[runID]
	if !ok || (threadID != "" && rec.run.ThreadID != threadID) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return rec, nil
}

// Transition moves the run along one direct edge of the state machine. Entering
// a terminal status closes any open step and releases the thread.
func (s *Store) Transition(runID string, to runstate.Status, lastErr *agentrun.RunError) (agentrun.Run, runstate.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.runLocked("", runID)
	if err != nil {
		return agentrun.Run{}, "", err
	}
	from := rec.run.Status
	if err := runstate.ValidateTransition(from, to); err != nil {
		return agentrun.Run{}, "", err
	}
	if from == to {
		return cloneRun(rec.run), from, nil
	}

	now := s.now().Unix()
	rec.run.Status = to
	switch to {
	case runstate.StatusInProgress:
		if rec.run.StartedAt == nil {
			rec.run.StartedAt = &now
		}
	case runstate.StatusCompleted:
		rec.run.CompletedAt = &now
	case runstate.StatusFailed:
		rec.run.FailedAt = &now
	case runstate.StatusCancelled:
		rec.run.CancelledAt = &now
	}
	if lastErr != nil {
		copied := *lastErr
		rec.run.LastError = &copied
	}
	if runstate.IsTerminal(to) {
		stepStatus := terminalStepStatus(to)
		for i := range rec.steps {
			if rec.steps[i].Status == agentrun.StepInProgress {
				rec.steps[i].Status = stepStatus
				rec.steps[i].LastError = rec.run.LastError
			}
		}
		if ts, ok := s.threads[rec.run.ThreadID]; ok && ts.activeRun == runID {
			ts.activeRun = ""
		}
	}
	return cloneRun(rec.run), from, nil
}

// RecordUsage adds token counts to the run.
func (s *Store) RecordUsage(runID string, prompt, completion int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return
	}
	if rec.run.Usage == nil {
		rec.run.Usage = &agentrun.RunUsage{}
	}
	rec.run.Usage.PromptTokens += prompt
	rec.run.Usage.CompletionTokens += completion
	rec.run.Usage.TotalTokens += prompt + completion
}

// AddStep appends a step to a non-terminal run.
func (s *Store) AddStep(runID string, details agentrun.StepDetails, status agentrun.StepStatus) (agentrun.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.runLocked("", runID)
	if err != nil {
		return agentrun.RunStep{}, err
	}
	if runstate.IsTerminal(rec.run.Status) {
		return agentrun.RunStep{}, fmt.Errorf("%w: run %s is %s", ErrConflict, runID, rec.run.Status)
	}
	now := s.now().Unix()
	step := agentrun.RunStep{
		ID:          newID("step"),
		Object:      "thread.run.step",
		CreatedAt:   now,
		RunID:       runID,
		ThreadID:    rec.run.ThreadID,
		AssistantID: rec.run.AssistantID,
		Type:        details.Type,
		Status:      status,
		StepDetails: cloneDetails(details),
	}
	if status == agentrun.StepCompleted {
		step.CompletedAt = &now
	}
	rec.steps = append(rec.steps, step)
	return cloneStep(step), nil
}

// UpdateStep applies fn to a step of a non-terminal run.
func (s *Store) UpdateStep(runID, stepID string, fn func(step *agentrun.RunStep)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.runLocked("", runID)
	if err != nil {
		return err
	}
	if runstate.IsTerminal(rec.run.Status) {
		return fmt.Errorf("%w: run %s is %s", ErrConflict, runID, rec.run.Status)
	}
	for i := range rec.steps {
		if rec.steps[i].ID != stepID {
			continue
		}
		fn(&rec.steps[i])
		if rec.steps[i].Status == agentrun.StepCompleted && rec.steps[i].CompletedAt == nil {
			now := s.now().Unix()
			rec.steps[i].CompletedAt = &now
		}
		return nil
	}
	return fmt.Errorf("%w: step %s", ErrNotFound, stepID)
}

// Steps returns the run's steps in creation order.
func (s *Store) Steps(threadID, runID string) ([]agentrun.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.runLocked(threadID, runID)
	if err != nil {
		return nil, err
	}
	out := make([]agentrun.RunStep, 0, len(rec.steps))
	for _, step := range rec.steps {
		out = append(out, cloneStep(step))
	}
	return out, nil
}

func terminalStepStatus(status runstate.Status) agentrun.StepStatus {
	switch status {
	case runstate.StatusCompleted:
		return agentrun.StepCompleted
	case runstate.StatusCancelled:
		return agentrun.StepCancelled
	case runstate.StatusExpired:
		return agentrun.StepExpired
	default:
		return agentrun.StepFailed
	}
}

func cloneAgent(agent agentrun.Agent) agentrun.Agent {
	agent.Tools = append([]agentrun.ToolDeclaration(nil), agent.Tools...)
	return agent
}

func cloneMessage(msg agentrun.Message) agentrun.Message {
	msg.Content = append([]agentrun.MessageContent(nil), msg.Content...)
	return msg
}

func cloneRun(run agentrun.Run) agentrun.Run {
	if run.Usage != nil {
		usage := *run.Usage
		run.Usage = &usage
	}
	return run
}

func cloneDetails(details agentrun.StepDetails) agentrun.StepDetails {
	details.ToolCalls = append([]agentrun.ToolCall(nil), details.ToolCalls...)
	if details.MessageCreation != nil {
		mc := *details.MessageCreation
		details.MessageCreation = &mc
	}
	return details
}

func cloneStep(step agentrun.RunStep) agentrun.RunStep {
	step.StepDetails = cloneDetails(step.StepDetails)
	return step
}
