package etl

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/protocol"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/logger"
)

// channelCapacity bounds the tap→target handoff. A full channel suspends the
// tap before its next message; an empty one suspends the target. That is the
// whole backpressure story.
const channelCapacity = 256

// Pipeline wires a tap's message stream into a target's batching sink. It
// holds no records itself; it is a conduit plus the mode logic.
type Pipeline struct {
	source  Reader
	entries []catalog.Entry
	store   *state.Store
}

// NewPipeline prepares a run over the selected catalog entries. tapCfg's
// stream allowlist filters the selection; targetCfg (nil for tap-only runs)
// must admit every remaining stream or the run refuses to start.
func NewPipeline(source Reader, cat *catalog.Catalog, tapCfg, targetCfg *config.Connector, store *state.Store) (*Pipeline, error) {
	var entries []catalog.Entry
	for _, e := range cat.Selected() {
		if !tapCfg.WantsStream(e.Stream) {
			continue
		}
		if targetCfg != nil && !targetCfg.WantsStream(e.Stream) {
			return nil, errs.ConfigInvalid("selected stream %q is not accepted by target %q", e.Stream, targetCfg.Name)
		}
		entries = append(entries, e)
	}
	return &Pipeline{source: source, entries: entries, store: store}, nil
}

// Streams returns the effective stream set for this run, in catalog order.
func (p *Pipeline) Streams() []catalog.Entry { return p.entries }

// Sync runs tap stage and target stage concurrently, connected by a bounded
// channel. A failure on either side cancels the other; whatever state was
// checkpointed before the failure stays valid for the next attempt.
func (p *Pipeline) Sync(ctx context.Context, sink *Sink) error {
	start := time.Now()
	ch := make(chan protocol.Message, channelCapacity)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		emitter := protocol.NewOrderedEmitter(func(m protocol.Message) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch <- m:
				return nil
			}
		})
		return p.runTap(ctx, emitter)
	})
	g.Go(func() error {
		return sink.Consume(ctx, ch)
	})

	err := g.Wait()
	if err == nil {
		elapsed := time.Since(start)
		rate := float64(sink.TotalRecords()) / elapsed.Seconds()
		logger.Infof("sync finished: %d records in %s (%.1f records/sec)",
			sink.TotalRecords(), elapsed.Round(time.Millisecond), rate)
	}
	return err
}

// Tap extracts the selected streams and serializes the message stream to w,
// producing the artifact a later target-only run consumes.
func (p *Pipeline) Tap(ctx context.Context, w io.Writer) error {
	enc := protocol.NewEncoder(w)
	emitter := protocol.NewOrderedEmitter(enc.Encode)
	return p.runTap(ctx, emitter)
}

// runTap drives the selected entries through the source reader, framing each
// stream with SCHEMA and END_OF_STREAM and terminating the run explicitly.
func (p *Pipeline) runTap(ctx context.Context, emitter protocol.Emitter) error {
	for _, entry := range p.entries {
		var bookmarkProps []string
		if entry.ReplicationMethod == catalog.Incremental && entry.ReplicationKey != "" {
			bookmarkProps = []string{entry.ReplicationKey}
		}
		if err := emitter.Emit(protocol.NewSchema(entry.Stream, entry.Schema, entry.KeyProperties, bookmarkProps)); err != nil {
			return err
		}

		var since *state.Record
		if entry.ReplicationMethod == catalog.Incremental {
			if rec, ok := p.store.Get(entry.Stream, entry.Stream); ok {
				since = &rec
				logger.Infof("resuming stream %s from bookmark %s=%s", entry.Stream, rec.BookmarkColumn, rec.BookmarkValue)
			}
		}

		if err := p.source.Read(ctx, entry, since, emitter); err != nil {
			return err
		}
		if err := emitter.Emit(protocol.NewEndOfStream(entry.Stream)); err != nil {
			return err
		}
	}
	return emitter.Emit(protocol.NewEndOfRun())
}

// Target consumes a serialized message stream from r and drives it through
// the sink, for target-only runs chained off a tap artifact.
func Target(ctx context.Context, r io.Reader, sink *Sink) error {
	dec := protocol.NewDecoder(r)
	ch := make(chan protocol.Message, channelCapacity)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		for {
			m, err := dec.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch <- m:
			}
		}
	})
	g.Go(func() error {
		return sink.Consume(ctx, ch)
	})
	return g.Wait()
}
