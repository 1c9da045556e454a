package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/sca"
	"github.com/roach88/sqlidb/internal/store"
)

// Mode is a transaction's access mode.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	VersionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "readonly" or "readwrite". Version-change transactions
// are only created by Factory.Open.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "readonly", "":
		return ReadOnly, nil
	case "readwrite":
		return ReadWrite, nil
	default:
		return 0, domerr.New(domerr.Type, "invalid transaction mode %q", s)
	}
}

// ErrCompleteHandler wraps the error returned by a Transaction.OnComplete
// handler. The transaction has already committed when this is reported.
var ErrCompleteHandler = errors.New("complete handler failed after commit")

// Transaction is an ordered queue of requests executed against one SQL
// transaction.
//
// A new transaction is active: requests may be enqueued until Run is
// called. Run drains the queue on the calling goroutine, re-arming the
// transaction around every success and error handler so handlers may
// enqueue follow-up requests, then commits. Any unhandled request error
// aborts the transaction and rolls the SQL transaction back.
//
// A Transaction is not safe for concurrent use.
type Transaction struct {
	// OnComplete runs after a successful commit.
	OnComplete func() error

	// OnAbort runs once the transaction has rolled back. err is the
	// cause, or nil for an explicit Abort.
	OnAbort func(err error)

	// OnError receives request errors that the request's own handler did
	// not prevent.
	OnError func(e *ErrorEvent) error

	id     string
	db     *Database
	scope  []string
	mode   Mode
	logger *slog.Logger

	queue *requestQueue
	sqlTx *store.Tx

	active   bool
	running  bool
	aborted  bool
	finished bool
	err      error

	// stores caches one handle per store name for the transaction's
	// lifetime, so cursor invalidation sees every write.
	stores map[string]*ObjectStore

	finishHooks []func(committed bool)
}

func newTransaction(db *Database, scope []string, mode Mode) *Transaction {
	id := db.factory.cfg.IDGenerator.Generate()
	return &Transaction{
		id:     id,
		db:     db,
		scope:  scope,
		mode:   mode,
		logger: db.logger.With("tx", id, "mode", mode.String()),
		queue:  newRequestQueue(),
		active: true,
		stores: make(map[string]*ObjectStore),
	}
}

// ID returns the transaction id.
func (t *Transaction) ID() string { return t.id }

// Mode returns the access mode.
func (t *Transaction) Mode() Mode { return t.mode }

// DB returns the owning database.
func (t *Transaction) DB() *Database { return t.db }

// Active reports whether requests may be enqueued right now.
func (t *Transaction) Active() bool { return t.active && !t.finished }

// Finished reports whether the transaction committed or aborted.
func (t *Transaction) Finished() bool { return t.finished }

// Error returns the error that aborted the transaction, if any.
func (t *Transaction) Error() error { return t.err }

// ObjectStoreNames returns the sorted names of the stores in scope.
func (t *Transaction) ObjectStoreNames() []string {
	if t.mode == VersionChange {
		return t.db.ObjectStoreNames()
	}
	return slices.Clone(t.scope)
}

// ObjectStore returns the handle for a store in the transaction's scope.
func (t *Transaction) ObjectStore(name string) (*ObjectStore, error) {
	if t.finished {
		return nil, errFinished("objectStore")
	}
	if t.mode != VersionChange && !slices.Contains(t.scope, name) {
		return nil, domerr.New(domerr.NotFound, "object store %q is not in the transaction's scope", name)
	}
	if s, ok := t.stores[name]; ok && !s.schema.deleted {
		return s, nil
	}
	schema, ok := t.db.lookup(name)
	if !ok {
		return nil, domerr.New(domerr.NotFound, "object store %q not found", name)
	}
	s := newObjectStore(t, schema)
	t.stores[name] = s
	return s, nil
}

// Abort rolls the transaction back. Requests that have not completed
// fail with AbortError. Calling Abort on a finished transaction returns
// an InvalidStateError; calling it twice is a no-op.
func (t *Transaction) Abort() error {
	if t.finished {
		return errFinished("abort")
	}
	t.abort(nil)
	if !t.running {
		t.finishAbort()
	}
	return nil
}

// Run ends the caller's initial burst of enqueues, drains the queue and
// commits. It returns an AbortError when the transaction aborted, or an
// error wrapping ErrCompleteHandler when OnComplete failed after commit.
func (t *Transaction) Run(ctx context.Context) error {
	if t.running {
		return domerr.New(domerr.InvalidState, "transaction is already running")
	}
	if t.finished {
		if t.aborted {
			return t.abortError()
		}
		return errFinished("run")
	}

	t.running = true
	t.active = false
	t.logger.Debug("transaction started", "stores", t.ObjectStoreNames(), "queued", t.queue.Len())

	for !t.aborted {
		if err := ctx.Err(); err != nil {
			t.abort(err)
			break
		}
		s, ok := t.queue.TryDequeue()
		if !ok {
			break
		}
		// Requests already resolved by an abort are not re-executed.
		if s.req != nil && s.req.state == Done {
			continue
		}
		t.execute(ctx, s)
	}

	if t.aborted {
		t.finishAbort()
		return t.abortError()
	}
	return t.commit()
}

func (t *Transaction) checkActive(op string) error {
	if t.finished || !t.active {
		return errInactive(op)
	}
	return nil
}

// enqueue appends a new request. Callers have already checked that the
// transaction is active.
func (t *Transaction) enqueue(src Source, name string, op opFunc) *Request {
	req := &Request{source: src, tx: t, seq: t.db.factory.seq.next()}
	t.queue.Enqueue(step{name: name, req: req, op: op})
	return req
}

// requeue puts an existing request back in the queue, as a cursor does
// on every continue.
func (t *Transaction) requeue(req *Request, name string, op opFunc) {
	req.reset()
	t.queue.Enqueue(step{name: name, req: req, op: op})
}

// enqueueInternal appends a step with no observable request. Its failure
// aborts the transaction.
func (t *Transaction) enqueueInternal(name string, op opFunc) {
	t.queue.Enqueue(step{name: name, op: op})
}

// onFinish registers a hook that runs after the transaction committed or
// rolled back and its own handlers have run.
func (t *Transaction) onFinish(hook func(committed bool)) {
	t.finishHooks = append(t.finishHooks, hook)
}

func (t *Transaction) serializer() sca.Serializer {
	return t.db.factory.cfg.Serializer
}

func (t *Transaction) execute(ctx context.Context, s step) {
	if t.sqlTx == nil {
		sqlTx, err := t.db.handle.Begin(ctx, t.mode == ReadOnly)
		if err != nil {
			t.fail(s, err)
			return
		}
		t.sqlTx = sqlTx
	}

	result, err := s.op(ctx, t.sqlTx)
	if err != nil {
		t.fail(s, err)
		return
	}
	if s.req != nil {
		t.succeed(s.req, result)
	}
}

func (t *Transaction) succeed(req *Request, result any) {
	req.state = Done
	req.result = result
	t.db.factory.metrics.RequestFinished("success")

	if req.OnSuccess == nil {
		return
	}
	if err := t.dispatch(func() error { return req.OnSuccess(req) }); err != nil {
		t.abort(domerr.Wrap(domerr.Abort, err, "success handler failed"))
	}
}

// fail resolves a failed step. Internal steps abort the transaction
// directly; request errors go to the request's handler, then bubble to
// the transaction's handler, and abort unless one of them prevented it.
func (t *Transaction) fail(s step, err error) {
	err = store.Translate(err)
	if s.req == nil {
		t.logger.Warn("internal step failed", "step", s.name, "error", err)
		t.abort(err)
		return
	}

	req := s.req
	req.state = Done
	req.result = nil
	req.err = err
	t.db.factory.metrics.RequestFinished("error")
	t.logger.Debug("request failed", "step", s.name, "seq", req.seq, "error", err)

	ev := &ErrorEvent{Request: req, Err: err}
	if req.OnError != nil {
		if herr := t.dispatch(func() error { return req.OnError(ev) }); herr != nil {
			t.abort(domerr.Wrap(domerr.Abort, herr, "error handler failed"))
			return
		}
	}
	if !ev.prevented && !t.aborted && t.OnError != nil {
		if herr := t.dispatch(func() error { return t.OnError(ev) }); herr != nil {
			t.abort(domerr.Wrap(domerr.Abort, herr, "error handler failed"))
			return
		}
	}
	if !ev.prevented {
		t.abort(err)
	}
}

// dispatch runs a handler with the transaction active, so the handler may
// enqueue follow-up requests. A panicking handler is reported as an error,
// which the caller turns into an abort.
func (t *Transaction) dispatch(fn func() error) (err error) {
	t.active = !t.aborted
	defer func() {
		t.active = false
		if r := recover(); r != nil {
			t.logger.Error("handler panicked", "panic", r)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn()
}

// abort marks the transaction aborted. It is idempotent; the first cause
// wins. The rollback itself happens in finishAbort once the current step
// has returned.
func (t *Transaction) abort(cause error) {
	if t.aborted || t.finished {
		return
	}
	t.aborted = true
	t.active = false
	t.err = cause
	t.logger.Debug("transaction aborting", "cause", cause)
}

func (t *Transaction) finishAbort() {
	if t.sqlTx != nil {
		// The in-memory state is rolled back regardless.
		if err := t.sqlTx.Rollback(); err != nil {
			t.logger.Error("rollback failed", "error", err)
		}
		t.sqlTx = nil
	}

	for _, s := range t.queue.Drain() {
		if s.req == nil || s.req.state == Done {
			continue
		}
		req := s.req
		req.state = Done
		req.err = domerr.New(domerr.Abort, "transaction aborted")
		t.db.factory.metrics.RequestFinished("aborted")
		if req.OnError == nil {
			continue
		}
		if err := req.OnError(&ErrorEvent{Request: req, Err: req.err}); err != nil {
			t.logger.Warn("error handler failed during abort", "seq", req.seq, "error", err)
		}
	}

	t.finished = true
	t.running = false
	if t.OnAbort != nil {
		t.OnAbort(t.err)
	}
	t.release()
	for _, hook := range t.finishHooks {
		hook(false)
	}
	t.db.factory.metrics.TransactionFinished(t.mode.String(), "aborted")
	t.logger.Debug("transaction aborted", "cause", t.err)
}

func (t *Transaction) commit() error {
	if t.sqlTx != nil {
		err := t.sqlTx.Commit()
		t.sqlTx = nil
		if err != nil {
			t.abort(store.Translate(err))
			t.finishAbort()
			return t.abortError()
		}
	}

	t.finished = true
	t.running = false
	t.release()

	var fatal error
	if t.OnComplete != nil {
		if err := t.OnComplete(); err != nil {
			t.logger.Error("complete handler failed after commit", "error", err)
			fatal = fmt.Errorf("%w: %w", ErrCompleteHandler, err)
		}
	}
	for _, hook := range t.finishHooks {
		hook(true)
	}
	t.db.factory.metrics.TransactionFinished(t.mode.String(), "committed")
	t.logger.Debug("transaction committed")
	return fatal
}

// release detaches cursors and drops the cached store handles.
func (t *Transaction) release() {
	for _, s := range t.stores {
		s.detach()
	}
	clear(t.stores)
	t.db.transactionDone(t)
}

func (t *Transaction) abortError() error {
	if t.err == nil {
		return domerr.New(domerr.Abort, "transaction was aborted")
	}
	if domerr.Is(t.err, domerr.Abort) {
		return t.err
	}
	return domerr.Wrap(domerr.Abort, t.err, "transaction aborted")
}
