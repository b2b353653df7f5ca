// Package model carries the run-level descriptors: which connector plays
// which role, and the stream binding one source to one target together with
// its observational last-sync status.
package model

import (
	"time"

	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
)

// Connector pairs a validated config with the role it plays in this run.
// Descriptors are immutable for the duration of an invocation.
type Connector struct {
	Role   config.Role
	Active bool
	Config *config.Connector
}

func NewConnector(cfg *config.Connector, role config.Role) *Connector {
	return &Connector{Role: role, Active: true, Config: cfg}
}

func (c *Connector) Name() string { return c.Config.Name }

// Sync run outcomes recorded on a Stream.
const (
	SyncStatusSucceeded = "succeeded"
	SyncStatusFailed    = "failed"
)

// Stream is a named pipeline binding one source connector to one target
// connector. The orchestrator stamps status and timestamp after a run.
type Stream struct {
	Name           string
	Source         *Connector
	Target         *Connector
	LastSyncStatus string
	LastSyncAt     time.Time
}

// NewStream validates the binding: both descriptors must be active and carry
// compatible roles.
func NewStream(source, target *Connector) (*Stream, error) {
	if source.Role != config.RoleTap {
		return nil, errs.ConfigInvalid("connector %q cannot act as a source (role %s)", source.Name(), source.Role)
	}
	if target.Role != config.RoleTarget {
		return nil, errs.ConfigInvalid("connector %q cannot act as a target (role %s)", target.Name(), target.Role)
	}
	if !source.Active || !target.Active {
		return nil, errs.ConfigInvalid("stream %s -> %s references an inactive connector", source.Name(), target.Name())
	}
	return &Stream{
		Name:   source.Name() + "->" + target.Name(),
		Source: source,
		Target: target,
	}, nil
}

// RecordResult stamps the outcome of a completed run.
func (s *Stream) RecordResult(err error) {
	s.LastSyncAt = time.Now().UTC()
	if err != nil {
		s.LastSyncStatus = SyncStatusFailed
	} else {
		s.LastSyncStatus = SyncStatusSucceeded
	}
}
