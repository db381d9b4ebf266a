package kvfile

import "sync/atomic"

// lsnTracker hands out monotonically increasing Log Sequence Numbers,
// adapted directly from pkg/storage/lsn_tracker.go: a single atomic
// counter is all a per-document WAL needs (the teacher's version guards
// a shared multi-table engine the same way).
type lsnTracker struct {
	current uint64
}

func newLSNTracker(start uint64) *lsnTracker {
	return &lsnTracker{current: start}
}

func (lt *lsnTracker) next() uint64 {
	return atomic.AddUint64(&lt.current, 1)
}

func (lt *lsnTracker) currentVal() uint64 {
	return atomic.LoadUint64(&lt.current)
}

func (lt *lsnTracker) set(val uint64) {
	atomic.StoreUint64(&lt.current, val)
}
