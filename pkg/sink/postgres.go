package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

const upsertSQL = `
INSERT INTO github_data.repositories (id, name, stargazer_count, crawled_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  stargazer_count = EXCLUDED.stargazer_count,
  crawled_at = EXCLUDED.crawled_at
WHERE github_data.repositories.crawled_at <= EXCLUDED.crawled_at`

const selectAllSQL = `
SELECT id, name, stargazer_count, crawled_at
FROM github_data.repositories
ORDER BY id`

// Postgres stores repositories in github_data.repositories.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a pool for connStr and checks it is reachable.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Upsert implements Sink.
func (p *Postgres) Upsert(ctx context.Context, repo model.Repository) error {
	start := time.Now()
	tag, err := p.db.Exec(ctx, upsertSQL, repo.ID, repo.Name, repo.Stars, repo.SeenAt)
	upsertDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		upsertsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("upsert repository %s: %w", repo.ID, err)
	}

	if tag.RowsAffected() == 0 {
		upsertsTotal.WithLabelValues("stale").Inc()
	} else {
		upsertsTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// Each implements Reader.
func (p *Postgres) Each(ctx context.Context, fn func(model.Repository) error) error {
	rows, err := p.db.Query(ctx, selectAllSQL)
	if err != nil {
		return fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Repository
		if err := rows.Scan(&r.ID, &r.Name, &r.Stars, &r.SeenAt); err != nil {
			return fmt.Errorf("scan repository: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored repositories.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM github_data.repositories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count repositories: %w", err)
	}
	return n, nil
}
