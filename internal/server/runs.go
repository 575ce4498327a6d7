package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/db"
	"github.com/jonathan/order-robot/internal/pipeline"
	"github.com/jonathan/order-robot/internal/types"
)

// RunFunc executes one robot run, reporting progress through onProgress.
// The returned result may be partial when err is non-nil.
type RunFunc func(ctx context.Context, runID uuid.UUID, onProgress pipeline.ProgressCallback) (*pipeline.RunResult, error)

// RunLookup reads runs recorded by earlier processes. *db.DB satisfies it.
type RunLookup interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListReceipts(ctx context.Context, runID uuid.UUID) ([]types.ReceiptArtifact, error)
}

// RunView is the JSON shape of a run.
type RunView struct {
	ID            uuid.UUID               `json:"id"`
	Status        string                  `json:"status"`
	Rows          int                     `json:"rows"`
	Receipts      []types.ReceiptArtifact `json:"receipts"`
	TimedOutRows  []int                   `json:"timed_out_rows,omitempty"`
	ModalTimeouts int                     `json:"modal_timeouts"`
	ArchivePath   string                  `json:"archive_path,omitempty"`
	Error         string                  `json:"error,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// runState is the in-memory record of a run started by this process.
type runState struct {
	mu      sync.Mutex
	view    RunView
	events  []pipeline.ProgressEvent
	changed chan struct{} // closed and replaced on every update
}

func newRunState(id uuid.UUID) *runState {
	return &runState{
		view: RunView{
			ID:        id,
			Status:    db.RunStatusRunning,
			Receipts:  []types.ReceiptArtifact{},
			CreatedAt: time.Now(),
		},
		changed: make(chan struct{}),
	}
}

func (r *runState) publish(event pipeline.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	switch event.Step {
	case pipeline.StepReceiptSaved:
		if artifact, ok := event.Content.(types.ReceiptArtifact); ok {
			r.view.Receipts = append(r.view.Receipts, artifact)
		}
	case pipeline.StepReceiptTimeout:
		r.view.TimedOutRows = append(r.view.TimedOutRows, event.Row)
	}
	r.notify()
}

func (r *runState) finish(result *pipeline.RunResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.view.CompletedAt = &now
	r.view.Status = db.RunStatusCompleted
	if err != nil {
		r.view.Status = db.RunStatusFailed
		r.view.Error = err.Error()
	}
	if result != nil {
		r.view.Rows = result.Rows
		r.view.TimedOutRows = result.TimedOutRows
		r.view.ModalTimeouts = result.ModalTimeouts
		if result.Manifest != nil {
			r.view.Receipts = append([]types.ReceiptArtifact{}, result.Manifest.Artifacts...)
		}
		if result.Archive != nil {
			r.view.ArchivePath = result.Archive.Path
		}
	}
	r.notify()
}

// notify must be called with r.mu held.
func (r *runState) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *runState) snapshot() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view
	v.Receipts = append([]types.ReceiptArtifact{}, r.view.Receipts...)
	return v
}

// eventsSince returns events from index on, whether the run has finished,
// and a channel closed on the next update.
func (r *runState) eventsSince(index int) ([]pipeline.ProgressEvent, bool, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []pipeline.ProgressEvent
	if index < len(r.events) {
		events = append(events, r.events[index:]...)
	}
	return events, r.view.CompletedAt != nil, r.changed
}

// runManager allows at most one active run and remembers every run it started.
type runManager struct {
	runner RunFunc
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[uuid.UUID]*runState
	active *runState
}

func newRunManager(runner RunFunc, logger *zap.Logger) *runManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &runManager{
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[uuid.UUID]*runState),
	}
}

func (m *runManager) start() (*runState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, &ErrRunInProgress{RunID: m.active.view.ID}
	}

	id := uuid.New()
	state := newRunState(id)
	m.runs[id] = state
	m.active = state

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("run started", zap.String("run_id", id.String()))

		result, err := m.runner(m.ctx, id, state.publish)

		// Free the slot before the run reports completion, so a client that
		// sees the final status can start the next run straight away.
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		state.finish(result, err)

		if err != nil {
			m.logger.Warn("run failed", zap.String("run_id", id.String()), zap.Error(err))
		} else {
			m.logger.Info("run completed", zap.String("run_id", id.String()))
		}
	}()

	return state, nil
}

func (m *runManager) get(id uuid.UUID) (*runState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.runs[id]
	return state, ok
}

// shutdown cancels the active run and waits for it to return.
func (m *runManager) shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
