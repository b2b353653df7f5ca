// Package connector turns a validated config into a live connector handle,
// dispatching on the config's type field. Handles are created per run and
// released through Close on every exit path; no long-lived connector objects
// survive an invocation.
package connector

import (
	"context"

	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/etl"
)

// Connector is a live handle. Capabilities (etl.Discoverer, etl.Reader,
// etl.Writer) are asserted by the caller for the run mode in play.
type Connector interface {
	Name() string
	Close(ctx context.Context) error
}

// stateEvery is how often readers emit a mid-stream STATE checkpoint.
const stateEvery = 1000

// Open validates cfg and connects. The returned handle lives for one run.
func Open(ctx context.Context, cfg *config.Connector) (Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "mssql":
		return openSQL(ctx, cfg, "sqlserver")
	case "sqlite":
		return openSQL(ctx, cfg, "sqlite")
	case "mongo":
		return openMongo(ctx, cfg)
	case "rest":
		return openREST(ctx, cfg)
	default:
		return nil, errs.ConfigInvalid("unknown connector type %q", cfg.Type)
	}
}

// AsDiscoverer asserts the discovery capability.
func AsDiscoverer(c Connector) (etl.Discoverer, error) {
	if d, ok := c.(etl.Discoverer); ok {
		return d, nil
	}
	return nil, errs.ConfigInvalid("connector %q does not support discovery", c.Name())
}

// AsReader asserts the extraction capability.
func AsReader(c Connector) (etl.Reader, error) {
	if r, ok := c.(etl.Reader); ok {
		return r, nil
	}
	return nil, errs.ConfigInvalid("connector %q cannot act as a tap", c.Name())
}

// AsWriter asserts the load capability.
func AsWriter(c Connector) (etl.Writer, error) {
	if w, ok := c.(etl.Writer); ok {
		return w, nil
	}
	return nil, errs.ConfigInvalid("connector %q cannot act as a target", c.Name())
}

// incrementalCandidates are column names that, when datetime-typed, make
// discovery propose INCREMENTAL replication. First match wins.
var incrementalCandidates = []string{"updated_at", "modified_at", "last_modified", "created_at"}
