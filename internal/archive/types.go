package archive

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotStarted is returned by Stop before Start.
var ErrNotStarted = errors.New("archive writer not started")

// Config tunes batching.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Upper bound on how long a row waits
	BufferSize    int           // Initial queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Stats contains writer counters.
type Stats struct {
	Queued    int64 // Entries accepted by Record
	Dropped   int64 // Entries offered after Stop
	Inserts   int64 // Rows written
	Conflicts int64 // Rows already present
	Flushes   int64 // Successful batches
	Errors    int64 // Failed batches
}

// batchSender is the part of *pgxpool.Pool the writer needs.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}
