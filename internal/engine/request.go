package engine

// Source is the object a request or cursor was issued against. It is one
// of *Database, *ObjectStore, *Index or *Cursor.
type Source interface {
	isSource()
}

func (*Database) isSource()    {}
func (*ObjectStore) isSource() {}
func (*Index) isSource()       {}
func (*Cursor) isSource()      {}

// ReadyState is the lifecycle state of a Request.
type ReadyState int

const (
	// Pending requests are queued or executing.
	Pending ReadyState = iota
	// Done requests hold a result or an error.
	Done
)

func (s ReadyState) String() string {
	if s == Done {
		return "done"
	}
	return "pending"
}

// Request is the handle for one queued operation.
//
// OnSuccess and OnError run on the goroutine draining the transaction.
// Inside them the transaction is active, so they may enqueue follow-up
// requests. Returning an error from either aborts the transaction with an
// AbortError.
type Request struct {
	OnSuccess func(r *Request) error
	OnError   func(e *ErrorEvent) error

	source Source
	tx     *Transaction
	seq    int64
	state  ReadyState
	result any
	err    error
}

// Result returns the operation's result once the request is done.
func (r *Request) Result() any { return r.result }

// Err returns the operation's error once the request is done.
func (r *Request) Err() error { return r.err }

// ReadyState reports whether the request has completed.
func (r *Request) ReadyState() ReadyState { return r.state }

// Source returns the object the request was issued against.
func (r *Request) Source() Source { return r.source }

// Transaction returns the owning transaction.
func (r *Request) Transaction() *Transaction { return r.tx }

// Seq returns the request's creation sequence number. Numbers increase
// in the order requests were created across the whole factory.
func (r *Request) Seq() int64 { return r.seq }

func (r *Request) reset() {
	r.state = Pending
	r.result = nil
	r.err = nil
}

// ErrorEvent is delivered to error handlers. Calling PreventDefault marks
// the error handled so the transaction does not abort because of it.
type ErrorEvent struct {
	Request *Request
	Err     error

	prevented bool
}

// PreventDefault marks the error as handled.
func (e *ErrorEvent) PreventDefault() { e.prevented = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *ErrorEvent) DefaultPrevented() bool { return e.prevented }
