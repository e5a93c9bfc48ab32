package manager

// Executor schedules a manager's background work. It is injected at
// construction so the caller chooses how initialization runs; the
// manager never probes its environment for a scheduler.
type Executor interface {
	Go(fn func())
}

// GoExecutor runs each task on its own goroutine.
type GoExecutor struct{}

func (GoExecutor) Go(fn func()) { go fn() }

// SyncExecutor runs tasks inline on the calling goroutine. Used by tests
// and CLI one-shots that need the history load finished before the first
// read.
type SyncExecutor struct{}

func (SyncExecutor) Go(fn func()) { fn() }
