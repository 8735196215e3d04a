package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/store"
)

// Ensure Store implements the datastore contract at compile time.
var _ store.Datastore = (*Store)(nil)

type entryModel struct {
	bun.BaseModel `bun:"table:coreplane_entries"`

	PK        int64  `bun:"pk,pk,autoincrement"`
	Namespace string `bun:"namespace,notnull"`
	ID        int64  `bun:"id,notnull"`
	Data      []byte `bun:"data,notnull"`
}

// Store is a Bun-backed implementation of store.Datastore. The caller
// owns the *bun.DB lifecycle unless the Store was built with
// NewSQLite, in which case Close tears the connection down too.
type Store struct {
	db      *bun.DB
	logger  *slog.Logger
	ownsDB  bool
	brefsMu sync.RWMutex
	brefs   map[string][]store.Backref
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store over an existing Bun handle. The caller owns
// the db lifecycle; Close will not close it.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		brefs:  make(map[string][]store.Backref),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSQLite opens (or creates) a SQLite database at path and returns
// a store owning the connection. Use ":memory:" for tests.
func NewSQLite(path string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// An in-memory database exists per connection; keep the pool at
	// one so every query sees the same database.
	if path == ":memory:" {
		sqldb.SetMaxOpenConns(1)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the entries table. Call once at startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*entryModel)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS coreplane_entries_ns_id
		ON coreplane_entries (namespace, id)
	`); err != nil {
		return fmt.Errorf("create entries index: %w", err)
	}
	return nil
}

// RegisterBackref declares that records of ref.Datastore reference
// namespace through ref.Field.
func (s *Store) RegisterBackref(namespace string, ref store.Backref) {
	s.brefsMu.Lock()
	defer s.brefsMu.Unlock()
	s.brefs[namespace] = append(s.brefs[namespace], ref)
}

func (s *Store) Query(ctx context.Context, namespace string, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error) {
	recs, err := s.load(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return filter.Apply(recs, filters, opts)
}

func (s *Store) QueryOne(ctx context.Context, namespace string, filters []filter.Filter) (coreplane.Record, error) {
	recs, err := s.Query(ctx, namespace, filters, filter.Options{})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &coreplane.NotFoundError{Namespace: namespace}
	}
	return recs[0], nil
}

func (s *Store) QueryCount(ctx context.Context, namespace string, filters []filter.Filter) (int, error) {
	recs, err := s.load(ctx, namespace)
	if err != nil {
		return 0, err
	}
	n, err := filter.CountMatches(recs, filters)
	return int(n), err
}

func (s *Store) Insert(ctx context.Context, namespace string, rec coreplane.Record) (any, error) {
	var pk int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var maxID sql.NullInt64
		if err := tx.NewSelect().
			Model((*entryModel)(nil)).
			ColumnExpr("MAX(id)").
			Where("namespace = ?", namespace).
			Scan(ctx, &maxID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		pk = maxID.Int64 + 1

		stored := rec.Clone()
		stored["id"] = pk
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.NewInsert().
			Model(&entryModel{Namespace: namespace, ID: pk, Data: data}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", namespace, err)
	}
	return pk, nil
}

func (s *Store) Update(ctx context.Context, namespace string, pk any, rec coreplane.Record) error {
	key, err := int64PK(pk)
	if err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row entryModel
		err := tx.NewSelect().
			Model(&row).
			Where("namespace = ?", namespace).
			Where("id = ?", key).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return &coreplane.NotFoundError{Namespace: namespace, ID: pk}
		}
		if err != nil {
			return err
		}

		var existing coreplane.Record
		if err := json.Unmarshal(row.Data, &existing); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		for k, v := range rec {
			if k == "id" {
				continue
			}
			existing[k] = v
		}
		data, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}

		_, err = tx.NewUpdate().
			Model((*entryModel)(nil)).
			Set("data = ?", data).
			Where("namespace = ?", namespace).
			Where("id = ?", key).
			Exec(ctx)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, namespace string, pk any) error {
	key, err := int64PK(pk)
	if err != nil {
		return err
	}
	res, err := s.db.NewDelete().
		Model((*entryModel)(nil)).
		Where("namespace = ?", namespace).
		Where("id = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", namespace, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &coreplane.NotFoundError{Namespace: namespace, ID: pk}
	}
	return nil
}

func (s *Store) GetBackrefs(ctx context.Context, namespace string, pk any) ([]coreplane.Dependent, error) {
	s.brefsMu.RLock()
	refs := append([]store.Backref(nil), s.brefs[namespace]...)
	s.brefsMu.RUnlock()

	var deps []coreplane.Dependent
	for _, ref := range refs {
		recs, err := s.load(ctx, ref.Datastore)
		if err != nil {
			return nil, err
		}
		var objects []coreplane.Record
		for _, rec := range recs {
			if filter.Equal(rec[ref.Field], pk) {
				objects = append(objects, rec)
			}
		}
		if len(objects) > 0 {
			deps = append(deps, coreplane.Dependent{
				Datastore: ref.Datastore,
				Service:   ref.Service,
				Field:     ref.Field,
				Objects:   objects,
			})
		}
	}
	return deps, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) load(ctx context.Context, namespace string) ([]coreplane.Record, error) {
	var rows []entryModel
	if err := s.db.NewSelect().
		Model(&rows).
		Where("namespace = ?", namespace).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("query %s: %w", namespace, err)
	}

	recs := make([]coreplane.Record, 0, len(rows))
	for _, row := range rows {
		var rec coreplane.Record
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode record %s/%d: %w", namespace, row.ID, err)
		}
		// JSON decoding turns the id into float64; restore the
		// canonical integer from the row.
		rec["id"] = row.ID
		recs = append(recs, rec)
	}
	return recs, nil
}

func int64PK(pk any) (int64, error) {
	switch v := pk.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("unsupported primary key %T", pk)
}
