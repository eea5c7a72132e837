package testutil

import (
	"context"
	"sync"
)

// EngineCall is one recorded call to a FakeEngine
type EngineCall struct {
	Op        string // "initialize" or "synchronize"
	Namespace string
	Table     string
}

// FakeEngine is a scripted replication engine. Results are queued per
// operation and table; an empty queue means success.
type FakeEngine struct {
	mu      sync.Mutex
	results map[string][]func() error
	calls   []EngineCall
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{results: make(map[string][]func() error)}
}

func engineKey(op, table string) string {
	return op + "/" + table
}

// QueueSync queues the outcome of the next Synchronize call for table
func (f *FakeEngine) QueueSync(table string, err error) {
	f.QueueSyncFunc(table, func() error { return err })
}

// QueueSyncFunc queues a function run by the next Synchronize call, e.g. to panic
func (f *FakeEngine) QueueSyncFunc(table string, fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := engineKey("synchronize", table)
	f.results[key] = append(f.results[key], fn)
}

// QueueInit queues the outcome of the next Initialize call for table
func (f *FakeEngine) QueueInit(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := engineKey("initialize", table)
	f.results[key] = append(f.results[key], func() error { return err })
}

func (f *FakeEngine) next(op, namespace, table string) func() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, EngineCall{Op: op, Namespace: namespace, Table: table})

	key := engineKey(op, table)
	queue := f.results[key]
	if len(queue) == 0 {
		return func() error { return nil }
	}
	f.results[key] = queue[1:]
	return queue[0]
}

func (f *FakeEngine) Initialize(_ context.Context, namespace, table string) error {
	return f.next("initialize", namespace, table)()
}

func (f *FakeEngine) Synchronize(_ context.Context, namespace, table string) error {
	return f.next("synchronize", namespace, table)()
}

func (f *FakeEngine) Calls() []EngineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EngineCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CountCalls returns how many times op was invoked for table
func (f *FakeEngine) CountCalls(op, table string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op && c.Table == table {
			n++
		}
	}
	return n
}

// FakeLister returns a fixed table list
type FakeLister struct {
	Tables []string
	Err    error
}

func (f *FakeLister) ListTables(_ context.Context, _ string) ([]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]string, len(f.Tables))
	copy(out, f.Tables)
	return out, nil
}

// ExecutedStatement is one statement seen by a FakeExecutor
type ExecutedStatement struct {
	Database string
	SQL      string
	// CtxErr is the state of the context when the statement arrived
	CtxErr error
}

// FakeExecutor records administrative statements. ErrorFor decides the
// result of each statement; nil means success.
type FakeExecutor struct {
	mu         sync.Mutex
	statements []ExecutedStatement
	ErrorFor   func(sql string) error
}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{}
}

func (f *FakeExecutor) Execute(ctx context.Context, database, sql string) error {
	f.mu.Lock()
	f.statements = append(f.statements, ExecutedStatement{Database: database, SQL: sql, CtxErr: ctx.Err()})
	errorFor := f.ErrorFor
	f.mu.Unlock()

	if errorFor != nil {
		return errorFor(sql)
	}
	return nil
}

func (f *FakeExecutor) Statements() []ExecutedStatement {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ExecutedStatement, len(f.statements))
	copy(out, f.statements)
	return out
}

// FakeNotifier captures posted messages
type FakeNotifier struct {
	mu       sync.Mutex
	messages []string
	Err      error
}

func (f *FakeNotifier) Post(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return f.Err
}

func (f *FakeNotifier) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}
