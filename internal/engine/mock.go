package engine

import (
	"context"
	"sync"
)

// ScriptedEngine replays a fixed event script. Tests use it to drive the
// streaming protocol without a live model.
type ScriptedEngine struct {
	mu sync.Mutex

	Script   []Event
	RunErr   error
	Rewinds  []string
	Answers  []string
	LastRun  RunInput
	RunCalls int

	// BeforeEmit, when set, runs before each scripted event is emitted.
	// Tests use it to interleave interrupts with the stream.
	BeforeEmit func(i int, ev Event)
}

// Run emits the script in order, honoring context cancellation between
// events the way a real engine observes its transport.
func (m *ScriptedEngine) Run(ctx context.Context, input RunInput, emit EmitFunc) error {
	m.mu.Lock()
	m.LastRun = input
	m.RunCalls++
	script := m.Script
	runErr := m.RunErr
	m.mu.Unlock()

	if runErr != nil {
		return runErr
	}

	for i, ev := range script {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.BeforeEmit != nil {
			m.BeforeEmit(i, ev)
		}
		if ev.Kind == EventQuestion && input.Answer != nil {
			// Scripted questions still round-trip through the answer
			// channel so tests exercise the correlation path.
			if err := emit(ev); err != nil {
				return err
			}
			answer, err := input.Answer(ctx)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.Answers = append(m.Answers, answer)
			m.mu.Unlock()
			continue
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// Rewind records the checkpoint id it was asked to restore.
func (m *ScriptedEngine) Rewind(ctx context.Context, sessionID, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rewinds = append(m.Rewinds, checkpointID)
	return nil
}
