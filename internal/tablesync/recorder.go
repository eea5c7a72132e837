package tablesync

import "sync"

// Step names recorded by a StepRecorder
const (
	StepSynchronize       = "synchronize"
	StepDropDependents    = "drop_dependents"
	StepSynchronizeRetry  = "synchronize_retry"
	StepRestoreDependents = "restore_dependents"
	StepInitialize        = "initialize"
)

// StepRecorder tracks the remote calls made during an attempt, for testing
type StepRecorder struct {
	mu   sync.Mutex
	path []string
}

func NewStepRecorder() *StepRecorder {
	return &StepRecorder{path: make([]string, 0)}
}

func (r *StepRecorder) Record(step string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = append(r.path, step)
}

func (r *StepRecorder) Path() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.path))
	copy(out, r.path)
	return out
}
