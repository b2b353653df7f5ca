// Package catalog models the set of streams a connector exposes: their
// schemas, key properties, replication method, and whether the operator has
// selected them for extraction. Catalogs are produced by discovery, edited
// only through explicit select/deselect, and read by the pipeline.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/pkg/utils"
)

// ReplicationMethod controls how a stream is extracted on each run.
type ReplicationMethod string

const (
	FullTable   ReplicationMethod = "FULL_TABLE"
	Incremental ReplicationMethod = "INCREMENTAL"
)

// FieldType is the type vocabulary for stream schemas. It survives a JSON
// round trip unchanged so tap and target agree on value semantics.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeFloat     FieldType = "float"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
	TypeObject    FieldType = "object"
	TypeArray     FieldType = "array"
)

// Field describes one column of a stream.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
}

// Schema is the ordered field list for a stream.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Field returns the schema field with the given name, if present.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Entry is one discoverable table/resource of a connector.
type Entry struct {
	Stream            string            `json:"stream"`
	SchemaName        string            `json:"schema_name,omitempty"`
	Schema            Schema            `json:"schema"`
	KeyProperties     []string          `json:"key_properties,omitempty"`
	ReplicationMethod ReplicationMethod `json:"replication_method"`
	ReplicationKey    string            `json:"replication_key,omitempty"`
	Selected          bool              `json:"selected"`
}

// Catalog is the persisted discovery result for one connector.
type Catalog struct {
	GeneratedAt time.Time `json:"generated_at"`
	Connector   string    `json:"connector,omitempty"`
	Streams     []Entry   `json:"streams"`
}

// New returns an empty catalog stamped with the generation time.
func New(connector string) *Catalog {
	return &Catalog{GeneratedAt: time.Now().UTC(), Connector: connector}
}

// Get returns the entry for a stream name, if present.
func (c *Catalog) Get(stream string) (*Entry, bool) {
	for i := range c.Streams {
		if c.Streams[i].Stream == stream {
			return &c.Streams[i], true
		}
	}
	return nil, false
}

// Selected returns the selected entries in catalog order. This is the only
// view the pipeline consumes.
func (c *Catalog) Selected() []Entry {
	var out []Entry
	for _, e := range c.Streams {
		if e.Selected {
			out = append(out, e)
		}
	}
	return out
}

// Select marks the named streams as selected. Selection is idempotent and
// touches nothing but the flag. Names that match no entry are returned so
// the caller can warn about them; they are not an error.
func (c *Catalog) Select(names []string) (unknown []string) {
	return c.setSelected(names, true)
}

// Deselect clears the selection flag for the named streams.
func (c *Catalog) Deselect(names []string) (unknown []string) {
	return c.setSelected(names, false)
}

func (c *Catalog) setSelected(names []string, selected bool) (unknown []string) {
	for _, name := range names {
		if e, ok := c.Get(name); ok {
			e.Selected = selected
		} else {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Load reads a catalog file. A parse failure or a duplicate stream entry
// surfaces as CorruptCatalog and never yields a partial catalog.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file '%s': %w", path, err)
	}

	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errs.CorruptCatalog(path, err)
	}

	// Streams are unique per (stream, schema_name). A hand-edited file with
	// duplicates would make Get and Selected act on an arbitrary occurrence.
	seen := map[string]bool{}
	for _, e := range c.Streams {
		id := e.SchemaName + "." + e.Stream
		if seen[id] {
			return nil, errs.CorruptCatalog(path, fmt.Errorf("duplicate stream entry %q", e.Stream))
		}
		seen[id] = true
	}
	return &c, nil
}

// Save writes the catalog with whole-file-replace semantics: the content goes
// to a temp file in the same directory first and is renamed into place, so a
// crash leaves either the old or the new complete file.
func (c *Catalog) Save(path string) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, raw, 0o644)
}
