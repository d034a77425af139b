// Package reqtable correlates outstanding requests with their responses on
// any duplex protocol that tags frames with an integer id.
//
// A Table hands out monotonically increasing ids. Each id owns a one-slot
// result channel that receives exactly one Result: the matching response,
// or the failure passed to Fail when the connection goes away.
package reqtable

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Register once the table has been failed.
var ErrClosed = errors.New("reqtable: closed")

// Result is delivered once per registered id.
type Result[T any] struct {
	Value T
	Err   error
}

// Table is safe for concurrent use.
type Table[T any] struct {
	mu      sync.Mutex
	next    int64
	pending map[int64]chan Result[T]
	failErr error
}

// New creates an empty table. The first id handed out is 1.
func New[T any]() *Table[T] {
	return &Table[T]{pending: make(map[int64]chan Result[T])}
}

// Register allocates the next id and its result channel.
// After Fail it returns the failure error instead.
func (t *Table[T]) Register() (int64, <-chan Result[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failErr != nil {
		return 0, nil, t.failErr
	}
	t.next++
	ch := make(chan Result[T], 1)
	t.pending[t.next] = ch
	return t.next, ch, nil
}

// Resolve delivers a result for id. It reports false when id is unknown
// (already resolved, forgotten, or never registered).
func (t *Table[T]) Resolve(id int64, v T, err error) bool {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- Result[T]{Value: v, Err: err}
	return true
}

// Forget drops id without delivering anything. Used when the caller gave up
// (timeout, cancelled context) so a late response is discarded.
func (t *Table[T]) Forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Fail delivers err to every pending id, empties the table and makes all
// later Register calls fail with err. It returns the number of calls failed.
// Only the first Fail has an effect.
func (t *Table[T]) Fail(err error) int {
	if err == nil {
		err = ErrClosed
	}

	t.mu.Lock()
	if t.failErr != nil {
		t.mu.Unlock()
		return 0
	}
	t.failErr = err
	pending := t.pending
	t.pending = make(map[int64]chan Result[T])
	t.mu.Unlock()

	var zero T
	for _, ch := range pending {
		ch <- Result[T]{Value: zero, Err: err}
	}
	return len(pending)
}

// Len returns the number of outstanding ids.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
