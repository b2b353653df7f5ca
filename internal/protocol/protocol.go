// Package protocol defines the message stream exchanged between a tap and a
// target: newline-delimited JSON messages discriminated by a "type" field.
// The same representation serves as the in-process channel payload and as
// the serialized file/pipe format, so tap-only and target-only runs can be
// chained through an intermediate artifact.
//
// Ordering contract, per stream: SCHEMA precedes every RECORD, STATE may be
// interleaved, END_OF_STREAM closes the stream. Messages for different
// streams may interleave arbitrarily. An END_OF_STREAM with an empty stream
// name terminates the whole run.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/state"
)

// Type discriminates message variants on the wire.
type Type string

const (
	TypeSchema      Type = "SCHEMA"
	TypeRecord      Type = "RECORD"
	TypeState       Type = "STATE"
	TypeEndOfStream Type = "END_OF_STREAM"
)

// Message is the envelope for all variants. Only the fields relevant to the
// variant are populated; the rest stay empty and are omitted on the wire.
type Message struct {
	Type               Type                   `json:"type"`
	Stream             string                 `json:"stream,omitempty"`
	Schema             *catalog.Schema        `json:"schema,omitempty"`
	KeyProperties      []string               `json:"key_properties,omitempty"`
	BookmarkProperties []string               `json:"bookmark_properties,omitempty"`
	Record             map[string]interface{} `json:"record,omitempty"`
	TimeExtracted      int64                  `json:"time_extracted,omitempty"`
	State              *state.Record          `json:"state,omitempty"`
}

// NewSchema announces a stream before any of its records.
func NewSchema(stream string, schema catalog.Schema, keyProps []string, bookmarkProps []string) Message {
	return Message{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             &schema,
		KeyProperties:      keyProps,
		BookmarkProperties: bookmarkProps,
	}
}

// NewRecord carries one row of field→value data for a stream.
func NewRecord(stream string, row map[string]interface{}) Message {
	return Message{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        row,
		TimeExtracted: time.Now().Unix(),
	}
}

// NewState checkpoints progress: "safe to resume from here once everything
// up to this point is committed".
func NewState(r state.Record) Message {
	return Message{Type: TypeState, Stream: r.Stream, State: &r}
}

// NewEndOfStream closes one stream.
func NewEndOfStream(stream string) Message {
	return Message{Type: TypeEndOfStream, Stream: stream}
}

// NewEndOfRun terminates the whole message stream.
func NewEndOfRun() Message {
	return Message{Type: TypeEndOfStream}
}

// Tracker enforces the per-stream ordering contract. Both producers and
// consumers run messages through a Tracker so a violation is caught on
// whichever side sees it first.
type Tracker struct {
	schemas map[string]bool
	closed  map[string]bool
	done    bool
}

func NewTracker() *Tracker {
	return &Tracker{schemas: map[string]bool{}, closed: map[string]bool{}}
}

// Check validates m against everything seen so far and records it.
func (t *Tracker) Check(m Message) error {
	if t.done {
		return errs.ProtocolViolation(m.Stream, "message after end of run")
	}

	switch m.Type {
	case TypeSchema:
		if m.Stream == "" {
			return errs.ProtocolViolation(m.Stream, "SCHEMA without stream name")
		}
		if t.closed[m.Stream] {
			return errs.ProtocolViolation(m.Stream, "SCHEMA after END_OF_STREAM")
		}
		t.schemas[m.Stream] = true
	case TypeRecord:
		if !t.schemas[m.Stream] {
			return errs.ProtocolViolation(m.Stream, "RECORD before SCHEMA")
		}
		if t.closed[m.Stream] {
			return errs.ProtocolViolation(m.Stream, "RECORD after END_OF_STREAM")
		}
	case TypeState:
		// State snapshots may appear at any point of the run.
	case TypeEndOfStream:
		if m.Stream == "" {
			t.done = true
			return nil
		}
		if t.closed[m.Stream] {
			return errs.ProtocolViolation(m.Stream, "duplicate END_OF_STREAM")
		}
		t.closed[m.Stream] = true
	default:
		return errs.ProtocolViolation(m.Stream, fmt.Sprintf("unknown message type %q", m.Type))
	}
	return nil
}

// Encoder writes messages as newline-delimited JSON. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(append(b, '\n'))
	return err
}

// maxLineBytes bounds a single message line; wide rows fit comfortably.
const maxLineBytes = 16 << 20

// Decoder reads newline-delimited messages one at a time, so a consumer can
// process message N before N+1 exists.
type Decoder struct {
	sc     *bufio.Scanner
	parser fastjson.Parser
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{sc: sc}
}

// Next returns the next message, or io.EOF when the input is exhausted.
// A line whose discriminator is missing or unknown, or that exceeds
// maxLineBytes, fails with ProtocolViolation before any partial decode is
// surfaced.
func (d *Decoder) Next() (Message, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}

		v, err := d.parser.ParseBytes(line)
		if err != nil {
			return Message{}, errs.ProtocolViolation("", fmt.Sprintf("unparsable message line: %v", err))
		}
		typ := Type(v.GetStringBytes("type"))
		switch typ {
		case TypeSchema, TypeRecord, TypeState, TypeEndOfStream:
		default:
			return Message{}, errs.ProtocolViolation("", fmt.Sprintf("unknown message type %q", typ))
		}

		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, errs.ProtocolViolation("", fmt.Sprintf("malformed %s message: %v", typ, err))
		}
		return m, nil
	}
	if err := d.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Message{}, errs.ProtocolViolation("", fmt.Sprintf("message line exceeds %d bytes", maxLineBytes))
		}
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Emitter is what taps produce into. The pipeline backs it with either a
// bounded channel (sync mode) or an Encoder (tap-only mode), always behind a
// Tracker so a tap cannot emit an out-of-order stream.
type Emitter interface {
	Emit(Message) error
}

// EmitFunc adapts a function to the Emitter interface.
type EmitFunc func(Message) error

func (f EmitFunc) Emit(m Message) error { return f(m) }

// OrderedEmitter wraps a sink with ordering enforcement.
type OrderedEmitter struct {
	tracker *Tracker
	sink    EmitFunc
}

func NewOrderedEmitter(sink EmitFunc) *OrderedEmitter {
	return &OrderedEmitter{tracker: NewTracker(), sink: sink}
}

func (e *OrderedEmitter) Emit(m Message) error {
	if err := e.tracker.Check(m); err != nil {
		return err
	}
	return e.sink(m)
}
