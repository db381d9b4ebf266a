package wal

import "time"

// SyncPolicy selects a durability strategy.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every write: safest, slowest.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval fsyncs on a background ticker: a middle ground.
	SyncInterval

	// SyncBatch fsyncs once the buffered bytes since the last sync cross
	// SyncBatchBytes: fastest, the most data at risk on a crash.
	SyncBatch
)

// Options configures a WALWriter.
type Options struct {
	// DirPath is the directory the log file lives in.
	DirPath string

	// BufferSize is the in-memory bufio buffer size before a flush to
	// the OS.
	BufferSize int

	SyncPolicy SyncPolicy

	// SyncIntervalDuration is the tick interval used by SyncInterval.
	SyncIntervalDuration time.Duration

	// SyncBatchBytes is the accumulated-bytes threshold that triggers a
	// sync under SyncBatch.
	SyncBatchBytes int64
}

// DefaultOptions returns a conservative starting configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./wal_data",
		BufferSize:           64 * 1024, // 64KB bufio buffer
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024, // 1MB
	}
}
