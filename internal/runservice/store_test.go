package runservice

import (
	"errors"
	"testing"
	"time"

	"snipbridge/internal/agentrun"
	"snipbridge/internal/runstate"
)

func TestStoreTransitionFollowsDirectEdges(t *testing.T) {
	t.Parallel()

	store := NewStore()
	agent := store.CreateAgent(agentrun.CreateAgentRequest{Model: "m"})
	thread := store.CreateThread()
	run, err := store.CreateRun(thread.ID, agent.ID, time.Minute)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if _, _, err := store.Transition(run.ID, runstate.StatusCompleted, nil); !errors.Is(err, runstate.ErrInvalidTransition) {
		t.Fatalf("Transition(queued -> completed) error = %v, want ErrInvalidTransition", err)
	}
	if _, from, err := store.Transition(run.ID, runstate.StatusInProgress, nil); err != nil || from != runstate.StatusQueued {
		t.Fatalf("Transition(in_progress) = %s, %v; want from queued", from, err)
	}
	step, err := store.AddStep(run.ID, agentrun.StepDetails{Type: agentrun.StepToolCalls}, agentrun.StepInProgress)
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}

	lastErr := &agentrun.RunError{Code: "server_error", Message: "boom"}
	failed, _, err := store.Transition(run.ID, runstate.StatusFailed, lastErr)
	if err != nil {
		t.Fatalf("Transition(failed) error = %v", err)
	}
	if failed.LastError == nil || failed.LastError.Message != "boom" || failed.FailedAt == nil {
		t.Fatalf("failed run = %#v", failed)
	}

	steps, err := store.Steps(thread.ID, run.ID)
	if err != nil {
		t.Fatalf("Steps() error = %v", err)
	}
	if steps[0].ID != step.ID || steps[0].Status != agentrun.StepFailed {
		t.Fatalf("open step after failure = %#v, want failed", steps[0])
	}
	if _, err := store.AddStep(run.ID, agentrun.StepDetails{Type: agentrun.StepMessageCreation}, agentrun.StepCompleted); !errors.Is(err, ErrConflict) {
		t.Fatalf("AddStep() after terminal error = %v, want ErrConflict", err)
	}
	if _, err := store.AppendRunMessage(run.ID, "late"); !errors.Is(err, ErrConflict) {
		t.Fatalf("AppendRunMessage() after terminal error = %v, want ErrConflict", err)
	}
}

func TestStoreRunScopedToThread(t *testing.T) {
	t.Parallel()

	store := NewStore()
	agent := store.CreateAgent(agentrun.CreateAgentRequest{Model: "m"})
	threadA := store.CreateThread()
	threadB := store.CreateThread()
	run, err := store.CreateRun(threadA.ID, agent.ID, 0)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ExpiresAt != nil {
		t.Fatalf("ExpiresAt = %v, want nil without ttl", *run.ExpiresAt)
	}
	if _, err := store.Run(threadB.ID, run.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Run(other thread) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Steps(threadB.ID, run.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Steps(other thread) error = %v, want ErrNotFound", err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewStore()
	agent := store.CreateAgent(agentrun.CreateAgentRequest{
		Model: "m",
		Tools: []agentrun.ToolDeclaration{{Name: "get_snippet"}},
	})
	agent.Tools[0].Name = "mutated"

	got, err := store.Agent(agent.ID)
	if err != nil {
		t.Fatalf("Agent() error = %v", err)
	}
	if got.Tools[0].Name != "get_snippet" {
		t.Fatalf("stored tool name = %q, want get_snippet", got.Tools[0].Name)
	}
}
