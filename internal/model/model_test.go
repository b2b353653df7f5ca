package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
)

func TestNewStream(t *testing.T) {
	src := NewConnector(&config.Connector{Name: "orders-db"}, config.RoleTap)
	dst := NewConnector(&config.Connector{Name: "warehouse"}, config.RoleTarget)

	s, err := NewStream(src, dst)
	require.NoError(t, err)
	assert.Equal(t, "orders-db->warehouse", s.Name)

	// Roles must match the position.
	_, err = NewStream(dst, src)
	assert.True(t, errors.Is(err, errs.ErrConfigInvalid))

	src.Active = false
	_, err = NewStream(src, dst)
	assert.True(t, errors.Is(err, errs.ErrConfigInvalid))
}

func TestRecordResult(t *testing.T) {
	src := NewConnector(&config.Connector{Name: "a"}, config.RoleTap)
	dst := NewConnector(&config.Connector{Name: "b"}, config.RoleTarget)
	s, err := NewStream(src, dst)
	require.NoError(t, err)

	s.RecordResult(nil)
	assert.Equal(t, SyncStatusSucceeded, s.LastSyncStatus)
	assert.False(t, s.LastSyncAt.IsZero())

	s.RecordResult(errors.New("boom"))
	assert.Equal(t, SyncStatusFailed, s.LastSyncStatus)
}
