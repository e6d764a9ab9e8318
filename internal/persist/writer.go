// Package persist writes board snapshots behind the realtime path. Writes are
// coalesced per board and flushed on a fixed interval so that a burst of
// canvas updates costs one store write.
package persist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/events"
	"github.com/eldtechnologies/boardsync/internal/metrics"
)

// Store is the durable side of persistence.
type Store interface {
	SaveSnapshot(ctx context.Context, id string, snapshot json.RawMessage, preview *string) error
	LoadSnapshot(ctx context.Context, id string) (json.RawMessage, error)
}

// Cache is the fast side of persistence. *store.RedisStore implements it.
type Cache interface {
	CacheSnapshot(ctx context.Context, id string, snapshot json.RawMessage) error
	CachedSnapshot(ctx context.Context, id string) (json.RawMessage, error)
	TouchBoard(ctx context.Context, id string, at time.Time) error
}

const (
	DefaultInterval   = 5 * time.Second
	DefaultMaxRetries = 3
)

type pending struct {
	snapshot json.RawMessage
	preview  *string
	cleared  bool
	at       time.Time
}

// Writer coalesces snapshot writes and flushes them in the background.
type Writer struct {
	store      Store
	cache      Cache
	publisher  events.Publisher
	logger     zerolog.Logger
	interval   time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	pending map[string]pending
	// inflight holds the batch Flush is writing, so Load never falls back to
	// an older stored snapshot while a write is in progress.
	inflight map[string]pending
}

// Option configures a Writer.
type Option func(*Writer)

// WithCache writes flushed snapshots through to cache and consults it on load.
func WithCache(c Cache) Option {
	return func(w *Writer) { w.cache = c }
}

// WithPublisher publishes an event for every flushed snapshot.
func WithPublisher(p events.Publisher) Option {
	return func(w *Writer) {
		if p != nil {
			w.publisher = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithInterval sets the flush interval.
func WithInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithMaxRetries sets how many times a failed store write is retried within
// one flush.
func WithMaxRetries(n uint64) Option {
	return func(w *Writer) { w.maxRetries = n }
}

// NewWriter creates a writer in front of s.
func NewWriter(s Store, opts ...Option) *Writer {
	w := &Writer{
		store:      s,
		publisher:  events.Nop{},
		logger:     zerolog.Nop(),
		interval:   DefaultInterval,
		maxRetries: DefaultMaxRetries,
		pending:    make(map[string]pending),
		inflight:   make(map[string]pending),
	}
	w.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxInterval = time.Second
		b.MaxElapsedTime = w.interval
		return b
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue records the latest snapshot of a board. It never blocks on I/O; a
// later call for the same board replaces the earlier one. A nil preview keeps
// whatever preview is already pending or stored.
func (w *Writer) Enqueue(boardID string, snapshot json.RawMessage, preview *string) {
	w.enqueue(boardID, snapshot, preview, false)
}

// EnqueueClear records that a board was cleared: the snapshot is reset and
// the stored preview removed.
func (w *Writer) EnqueueClear(boardID string, snapshot json.RawMessage) {
	empty := ""
	w.enqueue(boardID, snapshot, &empty, true)
}

func (w *Writer) enqueue(boardID string, snapshot json.RawMessage, preview *string, cleared bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p := pending{snapshot: snapshot, preview: preview, cleared: cleared, at: time.Now().UTC()}
	if prev, ok := w.pending[boardID]; ok {
		if p.preview == nil {
			p.preview = prev.preview
		}
	}
	w.pending[boardID] = p
}

// Discard drops any unflushed write for a board, used when the board is
// deleted.
func (w *Writer) Discard(boardID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, boardID)
	delete(w.inflight, boardID)
}

// Pending returns the number of boards waiting to be flushed.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Load returns the most recent snapshot of a board: an unflushed write first,
// then one being flushed, then the cache, then the store. It returns nil when
// the board has none.
func (w *Writer) Load(ctx context.Context, boardID string) (json.RawMessage, error) {
	w.mu.Lock()
	p, ok := w.pending[boardID]
	if !ok {
		p, ok = w.inflight[boardID]
	}
	w.mu.Unlock()
	if ok {
		return p.snapshot, nil
	}

	if w.cache != nil {
		start := time.Now()
		snap, err := w.cache.CachedSnapshot(ctx, boardID)
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			w.logger.Warn().Err(err).Str("board_id", boardID).Msg("snapshot cache read failed")
		} else if snap != nil {
			return snap, nil
		}
	}

	start := time.Now()
	snap, err := w.store.LoadSnapshot(ctx, boardID)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	return snap, err
}

// Run flushes pending writes every interval until ctx is cancelled, then
// performs a final flush bounded by the interval.
func (w *Writer) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), w.interval)
			w.Flush(flushCtx)
			cancel()
			return
		}
	}
}

// Flush writes every pending snapshot. Boards whose store write fails are put
// back unless a newer write arrived meanwhile. It returns the number of
// snapshots persisted.
func (w *Writer) Flush(ctx context.Context) int {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]pending, len(batch))
	for boardID, p := range batch {
		w.inflight[boardID] = p
	}
	w.mu.Unlock()

	saved := 0
	for boardID, p := range batch {
		err := w.flushOne(ctx, boardID, p)
		if err != nil {
			metrics.PersistFailures.WithLabelValues("store").Inc()
			w.logger.Error().Err(err).Str("board_id", boardID).Msg("failed to persist snapshot")
			w.requeue(boardID, p)
		} else {
			saved++
		}
		w.mu.Lock()
		delete(w.inflight, boardID)
		w.mu.Unlock()
	}
	return saved
}

func (w *Writer) flushOne(ctx context.Context, boardID string, p pending) error {
	if w.cache != nil {
		start := time.Now()
		err := w.cache.CacheSnapshot(ctx, boardID, p.snapshot)
		if err == nil {
			err = w.cache.TouchBoard(ctx, boardID, p.at)
		}
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.PersistFailures.WithLabelValues("cache").Inc()
			w.logger.Warn().Err(err).Str("board_id", boardID).Msg("snapshot cache write failed")
		}
	}

	start := time.Now()
	op := func() error {
		return w.store.SaveSnapshot(ctx, boardID, p.snapshot, p.preview)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return err
	}
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	metrics.SnapshotsPersisted.Inc()

	typ := events.TypeSnapshotSaved
	if p.cleared {
		typ = events.TypeBoardCleared
	}
	err := w.publisher.Publish(ctx, events.BoardEvent{
		Type:      typ,
		BoardID:   boardID,
		Bytes:     len(p.snapshot),
		Preview:   p.preview != nil,
		Timestamp: p.at,
	})
	if err != nil {
		metrics.PersistFailures.WithLabelValues("events").Inc()
		w.logger.Warn().Err(err).Str("board_id", boardID).Msg("failed to publish board event")
	}

	w.logger.Debug().Str("board_id", boardID).Int("bytes", len(p.snapshot)).Msg("snapshot persisted")
	return nil
}

func (w *Writer) requeue(boardID string, p pending) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if newer, ok := w.pending[boardID]; ok {
		if newer.preview == nil {
			newer.preview = p.preview
			w.pending[boardID] = newer
		}
		return
	}
	w.pending[boardID] = p
}
