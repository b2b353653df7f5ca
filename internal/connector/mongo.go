package connector

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/protocol"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/database"
	"github.com/codeG12/DStream/pkg/logger"
)

// sampleSize caps how many documents discovery inspects per collection when
// inferring a schema.
const sampleSize = 50

type mongoConnector struct {
	name   string
	client *mongo.Client
	db     *mongo.Database
}

func openMongo(ctx context.Context, cfg *config.Connector) (*mongoConnector, error) {
	uri, dbName, err := mongoURI(cfg)
	if err != nil {
		return nil, err
	}
	client, err := database.ConnectMongo(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &mongoConnector{name: cfg.Name, client: client, db: client.Database(dbName)}, nil
}

func mongoURI(cfg *config.Connector) (uri, dbName string, err error) {
	if cfg.Auth != nil {
		switch cfg.Auth.Type {
		case "", "none", "basic":
		default:
			return "", "", errs.ConfigInvalid("connector %q: auth type %q is not supported by mongo connectors",
				cfg.Name, cfg.Auth.Type)
		}
	}

	dbName = cfg.Connection.Database
	if cfg.Connection.URL != "" {
		u, parseErr := url.Parse(cfg.Connection.URL)
		if parseErr == nil && len(u.Path) > 1 && dbName == "" {
			dbName = u.Path[1:]
		}
		uri = cfg.Connection.URL
	} else {
		u := &url.URL{
			Scheme: "mongodb",
			Host:   fmt.Sprintf("%s:%d", cfg.Connection.Host, cfg.Connection.Port),
		}
		if cfg.Auth != nil && cfg.Auth.Type == "basic" {
			u.User = url.UserPassword(cfg.Auth.Username, cfg.Auth.Password)
		}
		uri = u.String()
	}

	if dbName == "" {
		return "", "", errs.ConfigInvalid("connector %q: mongo requires connection.database", cfg.Name)
	}
	return uri, dbName, nil
}

func (c *mongoConnector) Name() string { return c.name }

func (c *mongoConnector) Close(ctx context.Context) error {
	disconnectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Disconnect(disconnectCtx)
}

// Discover lists collections and infers a schema by sampling documents:
// the field set is the union across the sample, a field absent or null in
// any sampled document is nullable.
func (c *mongoConnector) Discover(ctx context.Context) ([]catalog.Entry, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	sort.Strings(names)

	var entries []catalog.Entry
	for _, coll := range names {
		schema, err := c.sampleSchema(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("discovery failed for collection %s: %w", coll, err)
		}

		entry := catalog.Entry{
			Stream:            coll,
			Schema:            schema,
			KeyProperties:     []string{"_id"},
			ReplicationMethod: catalog.FullTable,
		}
		for _, candidate := range incrementalCandidates {
			if f, ok := schema.Field(candidate); ok && f.Type == catalog.TypeTimestamp {
				entry.ReplicationMethod = catalog.Incremental
				entry.ReplicationKey = f.Name
				break
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *mongoConnector) sampleSchema(ctx context.Context, coll string) (catalog.Schema, error) {
	cursor, err := c.db.Collection(coll).Find(ctx, bson.M{}, options.Find().SetLimit(sampleSize))
	if err != nil {
		return catalog.Schema{}, err
	}
	defer cursor.Close(ctx)

	type fieldInfo struct {
		typ      catalog.FieldType
		seen     int
		nullable bool
	}
	fields := map[string]*fieldInfo{}
	var order []string
	docs := 0

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return catalog.Schema{}, err
		}
		docs++
		for k, v := range doc {
			fi := fields[k]
			if fi == nil {
				fi = &fieldInfo{typ: inferFieldType(v)}
				fields[k] = fi
				order = append(order, k)
			}
			fi.seen++
			if v == nil {
				fi.nullable = true
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return catalog.Schema{}, err
	}

	sort.Strings(order)
	var schema catalog.Schema
	for _, k := range order {
		fi := fields[k]
		schema.Fields = append(schema.Fields, catalog.Field{
			Name:     k,
			Type:     fi.typ,
			Nullable: fi.nullable || fi.seen < docs,
		})
	}
	return schema, nil
}

func inferFieldType(v interface{}) catalog.FieldType {
	// Datetimes normalize to RFC 3339 strings, so detect them before
	// normalization.
	if isDateTime(v) {
		return catalog.TypeTimestamp
	}
	switch normalizeValue(v).(type) {
	case int, int32, int64:
		return catalog.TypeInteger
	case float32, float64:
		return catalog.TypeFloat
	case bool:
		return catalog.TypeBoolean
	case map[string]interface{}:
		return catalog.TypeObject
	case []interface{}:
		return catalog.TypeArray
	default:
		return catalog.TypeString
	}
}

func isDateTime(v interface{}) bool {
	switch v.(type) {
	case time.Time:
		return true
	}
	type dateTimer interface{ Time() time.Time }
	_, ok := v.(dateTimer)
	return ok
}

// Read streams one collection in replication-key order, resuming past the
// bookmark when one is given.
func (c *mongoConnector) Read(ctx context.Context, entry catalog.Entry, since *state.Record, emit protocol.Emitter) error {
	filter := bson.M{}
	findOpts := options.Find()

	incremental := entry.ReplicationMethod == catalog.Incremental && entry.ReplicationKey != ""
	bookmarkType := state.BookmarkString
	if incremental {
		if f, ok := entry.Schema.Field(entry.ReplicationKey); ok {
			bookmarkType = state.BookmarkTypeForField(string(f.Type))
		}
		if since != nil && since.BookmarkValue != "" {
			arg, err := bookmarkArg(since.BookmarkValue, since.BookmarkType)
			if err != nil {
				return err
			}
			filter[entry.ReplicationKey] = bson.M{"$gt": arg}
		}
		findOpts.SetSort(bson.M{entry.ReplicationKey: 1})
	}

	cursor, err := c.db.Collection(entry.Stream).Find(ctx, filter, findOpts)
	if err != nil {
		return fmt.Errorf("extraction failed for stream %s: %w", entry.Stream, err)
	}
	defer cursor.Close(ctx)

	var count int64
	var lastBookmark string
	for cursor.Next(ctx) {
		var doc map[string]interface{}
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		row := normalizeRow(doc)

		if err := emit.Emit(protocol.NewRecord(entry.Stream, row)); err != nil {
			return err
		}
		count++

		if incremental {
			if v, ok := row[entry.ReplicationKey]; ok {
				lastBookmark = state.BookmarkValueString(v)
			}
			if count%stateEvery == 0 {
				if err := emit.Emit(protocol.NewState(state.Record{
					Stream:         entry.Stream,
					Table:          entry.Stream,
					BookmarkColumn: entry.ReplicationKey,
					BookmarkValue:  lastBookmark,
					BookmarkType:   bookmarkType,
				})); err != nil {
					return err
				}
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}

	logger.Debugf("extracted %d documents from %s", count, entry.Stream)
	return nil
}

// Write upserts one batch with a single BulkWrite keyed by keyProperties;
// without keys the batch is inserted append-only.
func (c *mongoConnector) Write(ctx context.Context, table string, keyProperties []string, rows []map[string]interface{}) error {
	coll := c.db.Collection(table)

	if len(keyProperties) == 0 {
		docs := make([]interface{}, len(rows))
		for i, row := range rows {
			docs[i] = row
		}
		_, err := coll.InsertMany(ctx, docs)
		return err
	}

	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		filter := bson.M{}
		for _, k := range keyProperties {
			filter[k] = row[k]
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": row}).
			SetUpsert(true))
	}

	res, err := coll.BulkWrite(ctx, writes)
	if err != nil {
		return err
	}
	logger.Debugf("mongo bulk write to %s: matched %d, modified %d, upserted %d",
		table, res.MatchedCount, res.ModifiedCount, res.UpsertedCount)
	return nil
}
