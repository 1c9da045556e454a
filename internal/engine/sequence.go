package engine

import "sync/atomic"

// sequence numbers the requests of every database a factory opens. A
// request's number is taken when it is enqueued, so Request.Seq orders
// requests by issue time across transactions and databases.
type sequence struct {
	last atomic.Int64
}

// next reserves and returns the next request number. The first is 1.
func (s *sequence) next() int64 {
	return s.last.Add(1)
}

// issued returns how many numbers have been handed out.
func (s *sequence) issued() int64 {
	return s.last.Load()
}
