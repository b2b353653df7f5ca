package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/protocol"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/database"
	"github.com/codeG12/DStream/pkg/logger"
)

// sqlConnector serves both SQL backends ("sqlserver" for mssql, "sqlite"
// for modernc sqlite); dialect differences are limited to DSN construction,
// identifier quoting, and catalog queries.
type sqlConnector struct {
	name   string
	driver string
	db     *sqlx.DB
}

func openSQL(ctx context.Context, cfg *config.Connector, driver string) (*sqlConnector, error) {
	dsn, err := sqlDSN(cfg, driver)
	if err != nil {
		return nil, err
	}
	db, err := database.ConnectSQL(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return &sqlConnector{name: cfg.Name, driver: driver, db: db}, nil
}

func sqlDSN(cfg *config.Connector, driver string) (string, error) {
	if cfg.Auth != nil {
		switch cfg.Auth.Type {
		case "", "none", "basic":
		default:
			return "", errs.ConfigInvalid("connector %q: auth type %q is not supported by %s connectors",
				cfg.Name, cfg.Auth.Type, cfg.Type)
		}
	}

	switch driver {
	case "sqlite":
		if cfg.Connection.Path == "" {
			return "", errs.ConfigInvalid("connector %q: sqlite requires connection.path", cfg.Name)
		}
		return cfg.Connection.Path, nil
	case "sqlserver":
		if cfg.Connection.URL != "" {
			return cfg.Connection.URL, nil
		}
		u := &url.URL{
			Scheme: "sqlserver",
			Host:   fmt.Sprintf("%s:%d", cfg.Connection.Host, cfg.Connection.Port),
		}
		if cfg.Auth != nil && cfg.Auth.Type == "basic" {
			u.User = url.UserPassword(cfg.Auth.Username, cfg.Auth.Password)
		}
		q := url.Values{}
		if cfg.Connection.Database != "" {
			q.Set("database", cfg.Connection.Database)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		return "", errs.ConfigInvalid("unsupported sql driver %q", driver)
	}
}

func (c *sqlConnector) Name() string { return c.name }

func (c *sqlConnector) Close(ctx context.Context) error { return c.db.Close() }

// quoteIdent wraps an identifier in the dialect's quoting, stripping the
// quote characters themselves so table/column names from a catalog file
// cannot break out of the identifier position.
func (c *sqlConnector) quoteIdent(name string) string {
	if c.driver == "sqlserver" {
		return "[" + strings.NewReplacer("[", "", "]", "").Replace(name) + "]"
	}
	return `"` + strings.ReplaceAll(name, `"`, "") + `"`
}

// Discover lists the base tables and their column metadata, proposing
// INCREMENTAL replication when a datetime-typed candidate column exists.
func (c *sqlConnector) Discover(ctx context.Context) ([]catalog.Entry, error) {
	if c.driver == "sqlite" {
		return c.discoverSQLite(ctx)
	}
	return c.discoverMSSQL(ctx)
}

func (c *sqlConnector) discoverSQLite(ctx context.Context) ([]catalog.Entry, error) {
	var tables []string
	err := c.db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	var entries []catalog.Entry
	for _, table := range tables {
		rows, err := c.db.QueryxContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, c.quoteIdent(table)))
		if err != nil {
			return nil, fmt.Errorf("discovery failed for table %s: %w", table, err)
		}

		var schema catalog.Schema
		var keys []string
		for rows.Next() {
			var cid, notNull, pk int
			var colName, declType string
			var dflt interface{}
			if err := rows.Scan(&cid, &colName, &declType, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return nil, err
			}
			schema.Fields = append(schema.Fields, catalog.Field{
				Name:     colName,
				Type:     sqliteFieldType(declType),
				Nullable: notNull == 0,
			})
			if pk > 0 {
				keys = append(keys, colName)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}

		entries = append(entries, newSQLEntry(table, "", schema, keys))
	}
	return entries, nil
}

func (c *sqlConnector) discoverMSSQL(ctx context.Context) ([]catalog.Entry, error) {
	type column struct {
		Table    string `db:"TABLE_NAME"`
		Schema   string `db:"TABLE_SCHEMA"`
		Column   string `db:"COLUMN_NAME"`
		DataType string `db:"DATA_TYPE"`
		Nullable string `db:"IS_NULLABLE"`
	}
	var cols []column
	err := c.db.SelectContext(ctx, &cols, `
		SELECT c.TABLE_NAME, c.TABLE_SCHEMA, c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
		  ON t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_SCHEMA = c.TABLE_SCHEMA
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	type pkRow struct {
		Table  string `db:"TABLE_NAME"`
		Column string `db:"COLUMN_NAME"`
	}
	var pks []pkRow
	err = c.db.SelectContext(ctx, &pks, `
		SELECT ku.TABLE_NAME, ku.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
		  ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		ORDER BY ku.TABLE_NAME, ku.ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	keysByTable := map[string][]string{}
	for _, pk := range pks {
		keysByTable[pk.Table] = append(keysByTable[pk.Table], pk.Column)
	}

	schemas := map[string]*catalog.Schema{}
	schemaNames := map[string]string{}
	var order []string
	for _, col := range cols {
		s, ok := schemas[col.Table]
		if !ok {
			s = &catalog.Schema{}
			schemas[col.Table] = s
			schemaNames[col.Table] = col.Schema
			order = append(order, col.Table)
		}
		s.Fields = append(s.Fields, catalog.Field{
			Name:     col.Column,
			Type:     mssqlFieldType(col.DataType),
			Nullable: col.Nullable == "YES",
		})
	}

	var entries []catalog.Entry
	for _, table := range order {
		entries = append(entries, newSQLEntry(table, schemaNames[table], *schemas[table], keysByTable[table]))
	}
	return entries, nil
}

// newSQLEntry applies the replication inference shared by both dialects.
func newSQLEntry(table, schemaName string, schema catalog.Schema, keys []string) catalog.Entry {
	entry := catalog.Entry{
		Stream:            table,
		SchemaName:        schemaName,
		Schema:            schema,
		KeyProperties:     keys,
		ReplicationMethod: catalog.FullTable,
	}
	for _, candidate := range incrementalCandidates {
		if f, ok := schema.Field(candidate); ok && f.Type == catalog.TypeTimestamp {
			entry.ReplicationMethod = catalog.Incremental
			entry.ReplicationKey = f.Name
			break
		}
	}
	return entry
}

func sqliteFieldType(declType string) catalog.FieldType {
	t := strings.ToUpper(declType)
	switch {
	case strings.Contains(t, "INT"):
		return catalog.TypeInteger
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return catalog.TypeFloat
	case strings.Contains(t, "BOOL"):
		return catalog.TypeBoolean
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return catalog.TypeTimestamp
	default:
		return catalog.TypeString
	}
}

func mssqlFieldType(dataType string) catalog.FieldType {
	switch strings.ToLower(dataType) {
	case "int", "bigint", "smallint", "tinyint":
		return catalog.TypeInteger
	case "float", "real", "decimal", "numeric", "money", "smallmoney":
		return catalog.TypeFloat
	case "bit":
		return catalog.TypeBoolean
	case "datetime", "datetime2", "smalldatetime", "date", "datetimeoffset":
		return catalog.TypeTimestamp
	default:
		return catalog.TypeString
	}
}

// Read streams one table's rows in replication-key order, resuming past the
// bookmark when one is given. Incremental streams get a STATE checkpoint
// every stateEvery records.
func (c *sqlConnector) Read(ctx context.Context, entry catalog.Entry, since *state.Record, emit protocol.Emitter) error {
	query := "SELECT * FROM " + c.quoteIdent(entry.Stream)
	var args []interface{}

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
			query += " WHERE " + c.quoteIdent(entry.ReplicationKey) + " > ?"
			args = append(args, arg)
		}
		query += " ORDER BY " + c.quoteIdent(entry.ReplicationKey)
	}

	rows, err := c.db.QueryxContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("extraction failed for stream %s: %w", entry.Stream, err)
	}
	defer rows.Close()

	var count int64
	var lastBookmark string
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return err
		}
		row = normalizeRow(row)

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
	if err := rows.Err(); err != nil {
		return err
	}

	logger.Debugf("extracted %d rows from %s", count, entry.Stream)
	return nil
}

// Write upserts one batch inside a transaction: update by key properties,
// insert when nothing matched. With no key properties the batch is
// append-only. The transaction makes the batch a single atomic commit.
func (c *sqlConnector) Write(ctx context.Context, table string, keyProperties []string, rows []map[string]interface{}) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range rows {
		if err := c.upsertRow(ctx, tx, table, keyProperties, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *sqlConnector) upsertRow(ctx context.Context, tx *sqlx.Tx, table string, keys []string, row map[string]interface{}) error {
	cols := sortedColumns(row)

	if len(keys) > 0 {
		var setClauses []string
		var args []interface{}
		for _, col := range cols {
			if contains(keys, col) {
				continue
			}
			setClauses = append(setClauses, c.quoteIdent(col)+" = ?")
			args = append(args, row[col])
		}
		var whereClauses []string
		missingKey := false
		for _, k := range keys {
			v, ok := row[k]
			if !ok {
				missingKey = true
				break
			}
			whereClauses = append(whereClauses, c.quoteIdent(k)+" = ?")
			args = append(args, v)
		}

		if !missingKey && len(setClauses) > 0 {
			query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
				c.quoteIdent(table), strings.Join(setClauses, ", "), strings.Join(whereClauses, " AND "))
			res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				return nil
			}
		}

		if !missingKey && len(setClauses) == 0 {
			// Every column is a key: there is nothing to update, but a
			// redelivered row must still not be re-inserted.
			query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s",
				c.quoteIdent(table), strings.Join(whereClauses, " AND "))
			var one int
			err := tx.GetContext(ctx, &one, tx.Rebind(query), args...)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
	}

	var colNames, placeholders []string
	var args []interface{}
	for _, col := range cols {
		colNames = append(colNames, c.quoteIdent(col))
		placeholders = append(placeholders, "?")
		args = append(args, row[col])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.quoteIdent(table), strings.Join(colNames, ", "), strings.Join(placeholders, ", "))
	_, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	return err
}

// sortedColumns keeps generated SQL deterministic across rows.
func sortedColumns(row map[string]interface{}) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
