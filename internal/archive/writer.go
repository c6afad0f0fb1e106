package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/relaychat/internal/model"
)

const insertMessage = `
	INSERT INTO messages (message_id, direction, endpoint, from_id, sender, to_id, content, image, sent_at, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (message_id) DO NOTHING
`

// Writer batches transcript entries into the messages table.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     batchSender

	input *Queue[model.TranscriptEntry]

	// Batching
	batch   []model.TranscriptEntry
	batchMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}
	started  bool

	statsMu sync.Mutex
	stats   Stats
}

// NewWriter creates a Writer. db is usually a *pgxpool.Pool.
func NewWriter(cfg Config, db batchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "archive"),
		db:     db,
		input:  NewQueue[model.TranscriptEntry](cfg.BufferSize),
		batch:  make([]model.TranscriptEntry, 0, cfg.BatchSize),
	}
}

// Record queues an entry. It never blocks; entries offered after Stop are
// counted and discarded.
func (w *Writer) Record(e model.TranscriptEntry) {
	ok := w.input.Push(e)

	w.statsMu.Lock()
	if ok {
		w.stats.Queued++
	} else {
		w.stats.Dropped++
	}
	w.statsMu.Unlock()
}

// Start begins consuming entries and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.consumed = make(chan struct{})
	w.started = true

	go w.consumeLoop()
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue, writes what is left and shuts down. ctx bounds the
// final write.
func (w *Writer) Stop(ctx context.Context) error {
	if !w.started {
		return ErrNotStarted
	}
	w.logger.Info("stopping archive writer")

	// Closing the buffer lets consumeLoop drain it and exit.
	w.input.Close()

	var err error
	select {
	case <-w.consumed:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		err = ctx.Err()
	}
	w.cancel()
	w.wg.Wait()

	w.flush(ctx)
	w.logger.Info("archive writer stopped", "inserts", w.Stats().Inserts)
	return err
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer close(w.consumed)
	for {
		e, ok := w.input.Pop()
		if !ok {
			return
		}
		entries := []model.TranscriptEntry{e}
		if w.cfg.BatchSize > 1 {
			entries = append(entries, w.input.Drain(w.cfg.BatchSize-1)...)
		}
		w.handleEntries(entries)
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handleEntries(entries []model.TranscriptEntry) {
	w.batchMu.Lock()
	w.batch = append(w.batch, entries...)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]model.TranscriptEntry, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)

	w.statsMu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Inserts += int64(len(batch) - conflicts)
		w.stats.Conflicts += int64(conflicts)
		w.stats.Flushes++
	}
	w.statsMu.Unlock()

	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}
	w.logger.Debug("flushed transcript",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, entries []model.TranscriptEntry) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertMessage, rowArgs(e)...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func rowArgs(e model.TranscriptEntry) []any {
	m := e.Message
	var image any
	if m.HasImage() {
		image = string(m.Image)
	}
	return []any{
		m.ID,
		string(e.Direction),
		e.Endpoint,
		m.From,
		m.Sender,
		m.To,
		m.Content,
		image,
		m.Timestamp,
		e.RecordedAt,
	}
}
