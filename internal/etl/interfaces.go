package etl

import (
	"context"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/protocol"
	"github.com/codeG12/DStream/internal/state"
)

// Connector capabilities are modeled as small interfaces rather than a
// hierarchy; a connector implements whichever subset its backend supports
// and the pipeline asserts for the ones a run mode needs.

// Discoverer lists the streams a connector exposes, one catalog entry per
// discoverable table. Entries come back unselected.
type Discoverer interface {
	Discover(ctx context.Context) ([]catalog.Entry, error)
}

// Reader extracts one stream's rows, emitting RECORD messages (and periodic
// STATE checkpoints for incremental streams) through emit. since is the
// bookmark to resume from; nil means a full extraction. The stream's SCHEMA
// and END_OF_STREAM framing is the pipeline's job, not the reader's.
type Reader interface {
	Read(ctx context.Context, entry catalog.Entry, since *state.Record, emit protocol.Emitter) error
}

// Writer commits one batch of rows to a destination table as a single atomic
// operation. Writes must be idempotent keyed by keyProperties so a retried
// run can safely redeliver a batch.
type Writer interface {
	Write(ctx context.Context, table string, keyProperties []string, rows []map[string]interface{}) error
}
