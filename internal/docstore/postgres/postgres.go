// Package postgres provides a PostgreSQL-backed resource store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const columns = `path, parent, type, visibility, owner, size, cost, favorite, description, created_at, last_accessed_at`

// Store is a PostgreSQL resource store.
type Store struct {
	db *sql.DB
}

// New opens the database and applies pending migrations.
func New(ctx context.Context, databaseURL string, maxConns int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded SQL migrations.
func (s *Store) Migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logging.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*models.Resource, error) {
	var (
		r        models.Resource
		typ      string
		vis      string
		accessed sql.NullTime
	)
	if err := row.Scan(&r.Path, &r.Parent, &typ, &vis, &r.Owner, &r.Size, &r.Cost,
		&r.Favorite, &r.Description, &r.CreatedAt, &accessed); err != nil {
		return nil, err
	}
	r.Type = models.Type(typ)
	r.Visibility = models.Visibility(vis)
	if accessed.Valid {
		t := accessed.Time
		r.LastAccessedAt = &t
	}
	return &r, nil
}

func (s *Store) Get(ctx context.Context, path string) (*models.Resource, error) {
	defer metrics.RecordDBQuery("postgres", "get", time.Now())

	r, err := scanResource(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM resources WHERE path = $1`, path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return r, nil
}

func (s *Store) Put(ctx context.Context, r *models.Resource) error {
	defer metrics.RecordDBQuery("postgres", "put", time.Now())

	var accessed sql.NullTime
	if r.LastAccessedAt != nil {
		accessed = sql.NullTime{Time: *r.LastAccessedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (`+columns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (path) DO UPDATE SET
			visibility = EXCLUDED.visibility,
			size = EXCLUDED.size,
			cost = EXCLUDED.cost,
			favorite = EXCLUDED.favorite,
			description = EXCLUDED.description,
			last_accessed_at = EXCLUDED.last_accessed_at`,
		r.Path, r.Parent, string(r.Type), string(r.Visibility), r.Owner, r.Size, r.Cost,
		r.Favorite, r.Description, r.CreatedAt, accessed)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	logging.Debug("upserted resource",
		zap.String("path", r.Path),
		zap.String("type", string(r.Type)),
		zap.Int64("size", r.Size))
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	defer metrics.RecordDBQuery("postgres", "delete", time.Now())

	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// BatchDelete removes every path in one statement; nothing is left unprocessed.
func (s *Store) BatchDelete(ctx context.Context, paths []string) ([]string, error) {
	defer metrics.RecordDBQuery("postgres", "batch_delete", time.Now())

	if len(paths) > docstore.BatchWriteLimit {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(paths), docstore.BatchWriteLimit)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE path = ANY($1)`, pq.Array(paths))
	if err != nil {
		return nil, fmt.Errorf("batch delete: %w", err)
	}
	rows, _ := result.RowsAffected()
	logging.Debug("batch deleted resources", zap.Int("requested", len(paths)), zap.Int64("rows", rows))
	return nil, nil
}

func (s *Store) QueryByParent(ctx context.Context, parent string, f docstore.Filter) ([]*models.Resource, error) {
	defer metrics.RecordDBQuery("postgres", "query_by_parent", time.Now())

	query := `SELECT ` + columns + ` FROM resources WHERE parent = $1 AND path <> '/'`
	args := []any{parent}
	if len(f.Visibility) > 0 {
		args = append(args, pq.Array(docstore.Visibilities(f.Visibility)))
		query += fmt.Sprintf(` AND visibility = ANY($%d)`, len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []*models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
