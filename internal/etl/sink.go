package etl

import (
	"context"
	"time"

	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/protocol"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/logger"
)

// SinkConfig tunes the batching discipline.
type SinkConfig struct {
	// BatchSize is the max records per batch before a flush.
	BatchSize int
	// FlushInterval bounds how long a partial batch may sit unflushed.
	// Zero disables time-based flushing.
	FlushInterval time.Duration
	// MaxAttempts is the total number of tries per batch commit.
	MaxAttempts int
	// RetryBackoff is the initial delay between attempts; it doubles each try.
	RetryBackoff time.Duration
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// streamMeta is what the sink learns about a stream from its SCHEMA message.
type streamMeta struct {
	keyProperties []string
	bookmarkCol   string
	bookmarkType  state.BookmarkType
	incremental   bool
}

type batch struct {
	rows    []map[string]interface{}
	firstAt time.Time
}

// Sink accumulates RECORD messages into bounded per-stream batches, commits
// them through a Writer, and advances the state store only after a commit
// succeeds. That ordering is the engine's core guarantee: a crash between
// commit and checkpoint re-delivers a batch on retry, never skips one.
type Sink struct {
	w       Writer
	store   *state.Store
	cfg     SinkConfig
	tracker *protocol.Tracker

	meta      map[string]*streamMeta
	batches   map[string]*batch
	pending   map[string]*state.Record // most recent STATE seen per stream, unconsumed
	committed map[string]string        // last committed bookmark per stream

	total int64
}

// NewSink builds a sink writing through w and checkpointing into store.
func NewSink(w Writer, store *state.Store, cfg SinkConfig) *Sink {
	return &Sink{
		w:         w,
		store:     store,
		cfg:       cfg.withDefaults(),
		tracker:   protocol.NewTracker(),
		meta:      map[string]*streamMeta{},
		batches:   map[string]*batch{},
		pending:   map[string]*state.Record{},
		committed: map[string]string{},
	}
}

// TotalRecords reports how many records were committed so far.
func (s *Sink) TotalRecords() int64 { return s.total }

// Consume drains the message channel until it closes or the context is
// cancelled. On a clean close every remaining batch is flushed; on cancel
// nothing more is committed, so the run resumes from the last checkpoint.
func (s *Sink) Consume(ctx context.Context, ch <-chan protocol.Message) error {
	var tick <-chan time.Time
	if s.cfg.FlushInterval > 0 {
		t := time.NewTicker(s.cfg.FlushInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := s.flushExpired(ctx); err != nil {
				return err
			}
		case m, ok := <-ch:
			if !ok {
				return s.flushAll(ctx)
			}
			if err := s.Handle(ctx, m); err != nil {
				return err
			}
		}
	}
}

// Handle processes a single message. Exposed so target-only runs can feed
// decoded messages directly.
func (s *Sink) Handle(ctx context.Context, m protocol.Message) error {
	if err := s.tracker.Check(m); err != nil {
		return err
	}

	switch m.Type {
	case protocol.TypeSchema:
		meta := &streamMeta{keyProperties: m.KeyProperties}
		if len(m.BookmarkProperties) > 0 {
			meta.bookmarkCol = m.BookmarkProperties[0]
			meta.incremental = true
			meta.bookmarkType = state.BookmarkString
			if m.Schema != nil {
				if f, ok := m.Schema.Field(meta.bookmarkCol); ok {
					meta.bookmarkType = state.BookmarkTypeForField(string(f.Type))
				}
			}
		}
		s.meta[m.Stream] = meta
	case protocol.TypeRecord:
		b := s.batches[m.Stream]
		if b == nil {
			b = &batch{firstAt: time.Now()}
			s.batches[m.Stream] = b
		}
		b.rows = append(b.rows, m.Record)
		if len(b.rows) >= s.cfg.BatchSize {
			return s.flush(ctx, m.Stream)
		}
	case protocol.TypeState:
		if m.State != nil {
			st := *m.State
			s.pending[st.Stream] = &st
		}
	case protocol.TypeEndOfStream:
		if m.Stream == "" {
			return s.flushAll(ctx)
		}
		return s.flush(ctx, m.Stream)
	}
	return nil
}

func (s *Sink) flushExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.FlushInterval)
	for stream, b := range s.batches {
		if len(b.rows) > 0 && b.firstAt.Before(cutoff) {
			if err := s.flush(ctx, stream); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sink) flushAll(ctx context.Context) error {
	for stream := range s.batches {
		if err := s.flush(ctx, stream); err != nil {
			return err
		}
	}
	return nil
}

// flush commits one stream's batch and, on success, checkpoints state for
// incremental streams. Commit failures are retried with doubling backoff;
// exhaustion aborts the run with WriteFailed, leaving prior checkpoints
// valid for the next attempt.
func (s *Sink) flush(ctx context.Context, stream string) error {
	b := s.batches[stream]
	if b == nil || len(b.rows) == 0 {
		delete(s.batches, stream)
		return nil
	}
	meta := s.meta[stream]
	if meta == nil {
		meta = &streamMeta{}
	}

	rows := b.rows
	delete(s.batches, stream)

	var err error
	backoff := s.cfg.RetryBackoff
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err = s.w.Write(ctx, stream, meta.keyProperties, rows); err == nil {
			break
		}
		if attempt == s.cfg.MaxAttempts {
			return errs.WriteFailed(stream, stream, s.committed[stream], err)
		}
		logger.Warnf("commit failed for stream %s (attempt %d/%d), retrying in %s: %v",
			stream, attempt, s.cfg.MaxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	s.total += int64(len(rows))
	logger.Debugf("committed %d records to %s", len(rows), stream)

	if !meta.incremental {
		// Full-table streams carry no bookmark; the batch discipline is for
		// write efficiency only.
		return nil
	}
	return s.checkpoint(stream, meta, rows)
}

// checkpoint advances the stream's bookmark after a successful commit, using
// the most recent STATE message if one arrived since the last flush and
// otherwise synthesizing from the batch's last record.
func (s *Sink) checkpoint(stream string, meta *streamMeta, rows []map[string]interface{}) error {
	rec, _ := s.store.Get(stream, stream)
	rec.Stream = stream
	rec.Table = stream
	rec.BookmarkColumn = meta.bookmarkCol
	rec.BookmarkType = meta.bookmarkType

	next := rec.BookmarkValue
	if p := s.pending[stream]; p != nil {
		next = p.BookmarkValue
		if p.BookmarkColumn != "" {
			rec.BookmarkColumn = p.BookmarkColumn
		}
		if p.BookmarkType != "" {
			rec.BookmarkType = p.BookmarkType
		}
		delete(s.pending, stream)
	} else if meta.bookmarkCol != "" {
		if v, ok := rows[len(rows)-1][meta.bookmarkCol]; ok {
			next = state.BookmarkValueString(v)
		}
	}

	// Never regress under the bookmark type's comparison semantics.
	cmp, err := state.Compare(next, rec.BookmarkValue, rec.BookmarkType)
	if err != nil {
		return err
	}
	if cmp > 0 {
		rec.BookmarkValue = next
	}

	rec.RecordsSynced += int64(len(rows))
	rec.LastSyncAt = time.Now().UTC()

	if err := s.store.Checkpoint(rec); err != nil {
		return err
	}
	if err := s.store.Persist(); err != nil {
		return err
	}
	s.committed[stream] = rec.BookmarkValue
	return nil
}
