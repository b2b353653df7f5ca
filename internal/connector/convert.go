package connector

import (
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/codeG12/DStream/internal/state"
)

// normalizeValue flattens driver-specific scalar types into the JSON-safe
// forms carried by RECORD messages: []byte becomes string, times become
// RFC 3339 strings, Mongo primitives lose their driver wrappers.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		return t.String()
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case primitive.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func normalizeRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = normalizeValue(v)
	}
	return out
}

// bookmarkArg converts a stored bookmark value into the typed argument a
// backend query expects for its comparison.
func bookmarkArg(value string, typ state.BookmarkType) (interface{}, error) {
	switch typ {
	case state.BookmarkInteger:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bookmark %q is not an integer: %w", value, err)
		}
		return n, nil
	case state.BookmarkFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("bookmark %q is not a float: %w", value, err)
		}
		return f, nil
	case state.BookmarkTimestamp:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("bookmark %q is not a timestamp", value)
	default:
		return value, nil
	}
}
