// Package state tracks per-stream bookmarks for incremental extraction. A
// bookmark records how far a (stream, table) pair has been synced; absence
// means "extract from the beginning". Checkpoints replace the whole record
// atomically and the file is persisted with whole-file-replace semantics.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/pkg/utils"
)

// BookmarkType selects the comparison semantics for a bookmark value.
// Comparing with the wrong semantics can silently regress a bookmark, so
// every comparison goes through Compare.
type BookmarkType string

const (
	BookmarkString    BookmarkType = "string"
	BookmarkInteger   BookmarkType = "integer"
	BookmarkFloat     BookmarkType = "float"
	BookmarkTimestamp BookmarkType = "timestamp"
)

// Record is the bookmark for one (stream, table) pair. An update replaces
// the whole record; there is no field-level merge.
type Record struct {
	Stream         string       `json:"stream"`
	Table          string       `json:"table"`
	BookmarkColumn string       `json:"bookmark_column,omitempty"`
	BookmarkValue  string       `json:"bookmark_value,omitempty"`
	BookmarkType   BookmarkType `json:"bookmark_type,omitempty"`
	RecordsSynced  int64        `json:"records_synced"`
	LastSyncAt     time.Time    `json:"last_sync_at"`
}

// Key identifies a record within a store.
type Key struct {
	Stream string
	Table  string
}

func (k Key) String() string { return k.Stream + "." + k.Table }

// Store is the in-memory state map bound to its file path.
type Store struct {
	path    string
	records map[Key]Record
}

// stateFile is the persisted shape: a flat list keeps the file diffable and
// avoids encoding the composite key into JSON object keys.
type stateFile struct {
	Records []Record `json:"records"`
}

// New returns an empty store bound to path. The file is not touched until
// Persist.
func New(path string) *Store {
	return &Store{path: path, records: map[Key]Record{}}
}

// Load reads the state file at path. A missing file yields an empty store; a
// file that cannot be parsed fails with CorruptState and never returns a
// partial map.
func Load(path string) (*Store, error) {
	s := New(path)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file '%s': %w", path, err)
	}

	var f stateFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.CorruptState(path, err)
	}
	for _, r := range f.Records {
		if r.Stream == "" || r.Table == "" {
			return nil, errs.CorruptState(path, fmt.Errorf("record missing stream or table"))
		}
		s.records[Key{Stream: r.Stream, Table: r.Table}] = r
	}
	return s, nil
}

// Path returns the file the store persists to.
func (s *Store) Path() string { return s.path }

// Get returns the record for (stream, table) if one exists.
func (s *Store) Get(stream, table string) (Record, bool) {
	r, ok := s.records[Key{Stream: stream, Table: table}]
	return r, ok
}

// Len returns the number of records in the store.
func (s *Store) Len() int { return len(s.records) }

// Records returns all records ordered by key, for display and persistence.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream != out[j].Stream {
			return out[i].Stream < out[j].Stream
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// Checkpoint upserts a record keyed by (stream, table). The old record is
// fully replaced; nothing is merged field by field.
func (s *Store) Checkpoint(r Record) error {
	if r.Stream == "" || r.Table == "" {
		return fmt.Errorf("checkpoint requires stream and table, got %q.%q", r.Stream, r.Table)
	}
	s.records[Key{Stream: r.Stream, Table: r.Table}] = r
	return nil
}

// Clear drops every record.
func (s *Store) Clear() {
	s.records = map[Key]Record{}
}

// Persist writes the full current map to the store's path atomically.
func (s *Store) Persist() error {
	raw, err := json.MarshalIndent(stateFile{Records: s.Records()}, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(s.path, raw, 0o644)
}

// Lock takes an advisory lock on the state file for the duration of one
// invocation, guarding the upsert semantics against concurrent writers.
// Release by calling the returned function.
func (s *Store) Lock() (release func(), err error) {
	lockPath := s.path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("state file '%s' is locked by another process (remove %s if stale)", s.path, lockPath)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(lockPath) }, nil
}

// Compare orders two bookmark values under the semantics of typ. It returns
// a negative value when a sorts before b, zero when equal, positive when a
// sorts after b. An empty value always sorts first so that "no progress yet"
// never wins against a real bookmark.
func Compare(a, b string, typ BookmarkType) (int, error) {
	if a == b {
		return 0, nil
	}
	if a == "" {
		return -1, nil
	}
	if b == "" {
		return 1, nil
	}

	switch typ {
	case BookmarkString, "":
		return strings.Compare(a, b), nil
	case BookmarkInteger:
		ai, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bookmark %q is not an integer: %w", a, err)
		}
		bi, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bookmark %q is not an integer: %w", b, err)
		}
		switch {
		case ai < bi:
			return -1, nil
		case ai > bi:
			return 1, nil
		}
		return 0, nil
	case BookmarkFloat:
		af, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return 0, fmt.Errorf("bookmark %q is not a float: %w", a, err)
		}
		bf, err := strconv.ParseFloat(b, 64)
		if err != nil {
			return 0, fmt.Errorf("bookmark %q is not a float: %w", b, err)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	case BookmarkTimestamp:
		at, err := parseTimestamp(a)
		if err != nil {
			return 0, err
		}
		bt, err := parseTimestamp(b)
		if err != nil {
			return 0, err
		}
		switch {
		case at.Before(bt):
			return -1, nil
		case at.After(bt):
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown bookmark type %q", typ)
	}
}

// BookmarkTypeForField maps a catalog field type name onto the bookmark
// comparison semantics for columns of that type.
func BookmarkTypeForField(fieldType string) BookmarkType {
	switch fieldType {
	case "integer":
		return BookmarkInteger
	case "float":
		return BookmarkFloat
	case "timestamp":
		return BookmarkTimestamp
	default:
		return BookmarkString
	}
}

// BookmarkValueString serializes an arbitrary scalar field value into the
// canonical bookmark form used for storage and comparison.
func BookmarkValueString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		// JSON numbers decode as float64; keep integral values clean.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return BookmarkValueString(float64(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bookmark %q is not a timestamp", v)
}
