package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"capturekit/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteGateway stores every collection in one JSON document table.
type SQLiteGateway struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// InitDB opens the SQLite file, creating its directory, and applies the
// embedded migrations.
func InitDB(dataSourceName string) (*sql.DB, error) {
	dbDir := filepath.Dir(dataSourceName)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			logger.Error("Failed to create database directory %s: %v", dbDir, err)
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		logger.Error("Failed to open database: %v", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps upserts and their RETURNING reads serialized.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		logger.Error("Failed to connect to database: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(dataSourceName); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(dataSourceName string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, fmt.Sprintf("sqlite3://%s?_busy_timeout=5000", dataSourceName))
	if err != nil {
		logger.Error("Failed to initialize migrations: %v", err)
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	logger.Info("Applying database migrations...")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("Failed to apply migrations: %v", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully (or no changes).")
	return nil
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteGateway, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	g := &SQLiteGateway{db: db, path: path, now: time.Now}
	if err := g.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGateway) Name() string { return "sqlite" }

func (g *SQLiteGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

func (g *SQLiteGateway) Close(_ context.Context) error {
	return g.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (g *SQLiteGateway) UpsertOne(ctx context.Context, collection string, filter Filter, update Update) (UpsertResult, error) {
	return g.upsert(ctx, g.db, collection, filter, update)
}

func (g *SQLiteGateway) upsert(ctx context.Context, q execer, collection string, filter Filter, update Update) (UpsertResult, error) {
	if err := validateFilter(filter, true); err != nil {
		return UpsertResult{}, err
	}
	if err := validateUpdate(update); err != nil {
		return UpsertResult{}, err
	}
	key, err := json.Marshal(filter)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encoding document key: %w", err)
	}
	body, err := json.Marshal(insertBody(filter, update))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encoding document body: %w", err)
	}

	now := g.now().UTC().Format(time.RFC3339Nano)
	args := []any{collection, string(key), string(body), now, now}

	setExpr := "documents.body"
	if len(update.Set) > 0 {
		fields := make([]string, 0, len(update.Set))
		for k := range update.Set {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		var parts []string
		for _, k := range fields {
			val, err := json.Marshal(update.Set[k])
			if err != nil {
				return UpsertResult{}, fmt.Errorf("encoding field %s: %w", k, err)
			}
			parts = append(parts, fmt.Sprintf("'$.%s', json(?)", k))
			args = append(args, string(val))
		}
		setExpr = "json_set(documents.body, " + strings.Join(parts, ", ") + ")"
	}

	query := `INSERT INTO documents (collection, doc_key, body, revision, created_at, updated_at)
              VALUES (?, ?, json(?), 1, ?, ?)
              ON CONFLICT(collection, doc_key) DO UPDATE SET
                  body = ` + setExpr + `,
                  revision = documents.revision + 1,
                  updated_at = excluded.updated_at
              RETURNING revision`

	var revision int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&revision); err != nil {
		return UpsertResult{}, fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return UpsertResult{Inserted: revision == 1}, nil
}

func (g *SQLiteGateway) BulkUpsert(ctx context.Context, collection string, writes []WriteModel) (BulkResult, error) {
	var res BulkResult
	if len(writes) == 0 {
		return res, nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning bulk upsert on %s: %w", collection, err)
	}
	for i, w := range writes {
		r, err := g.upsert(ctx, tx, collection, w.Filter, w.Update)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("write %d: %w", i, err))
			continue
		}
		if r.Inserted {
			res.Upserted++
		} else {
			res.Matched++
		}
	}
	if err := tx.Commit(); err != nil {
		return BulkResult{Failed: len(writes), Errors: []error{err}}, fmt.Errorf("committing bulk upsert on %s: %w", collection, err)
	}
	return res, nil
}

func buildWhere(collection string, filter Filter) (string, []any, error) {
	if err := validateFilter(filter, false); err != nil {
		return "", nil, err
	}
	fields := make([]string, 0, len(filter))
	for k := range filter {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	clauses := []string{"collection = ?"}
	args := []any{collection}
	for _, k := range fields {
		path := fmt.Sprintf("json_extract(body, '$.%s')", k)
		switch v := filter[k].(type) {
		case nil:
			clauses = append(clauses, path+" IS NULL")
		case In:
			if len(v) == 0 {
				clauses = append(clauses, "0")
				continue
			}
			clauses = append(clauses, path+" IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(v)), ", ")+")")
			args = append(args, v...)
		default:
			clauses = append(clauses, path+" = ?")
			args = append(args, v)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func (g *SQLiteGateway) FindOne(ctx context.Context, collection string, filter Filter, out any) (bool, error) {
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return false, err
	}
	var body string
	err = g.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE "+where+" ORDER BY rowid LIMIT 1", args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", collection, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return true, fmt.Errorf("decoding %s document: %w", collection, err)
	}
	return true, nil
}

func (g *SQLiteGateway) Find(ctx context.Context, collection string, filter Filter, out any) error {
	if rv := reflect.ValueOf(out); rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("find into %T: out must be a pointer to a slice", out)
	}
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return err
	}
	rows, err := g.db.QueryContext(ctx, "SELECT body FROM documents WHERE "+where+" ORDER BY rowid", args...)
	if err != nil {
		return fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var sb strings.Builder
	sb.WriteByte('[')
	n := 0
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scanning %s row: %w", collection, err)
		}
		if n > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(body)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating %s rows: %w", collection, err)
	}
	sb.WriteByte(']')
	if err := json.Unmarshal([]byte(sb.String()), out); err != nil {
		return fmt.Errorf("decoding %s documents: %w", collection, err)
	}
	return nil
}

var _ Gateway = (*SQLiteGateway)(nil)
