package status

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of *pgxpool.Pool used by Postgres.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres updates the status columns of the videos table.
type Postgres struct {
	db            Execer
	updateStatus  string
	updateSummary string
}

var _ Writer = (*Postgres)(nil)

// NewPostgres wraps db; table is the videos table name.
func NewPostgres(db Execer, table string) *Postgres {
	t := pgx.Identifier{table}.Sanitize()
	return &Postgres{
		db:            db,
		updateStatus:  fmt.Sprintf(`UPDATE %s SET status = $1, "updatedAt" = $3 WHERE id = $2`, t),
		updateSummary: fmt.Sprintf(`UPDATE %s SET status = $1, "updatedAt" = $3, summary_file_id = $4 WHERE id = $2`, t),
	}
}

// OpenPostgres connects a pool and checks it is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Write(ctx context.Context, u Update) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if u.SummaryKey != "" {
		tag, err = p.db.Exec(ctx, p.updateSummary, string(u.Status), u.ID, u.At, u.SummaryKey)
	} else {
		tag, err = p.db.Exec(ctx, p.updateStatus, string(u.Status), u.ID, u.At)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		log.Warn().Str("jobId", u.ID).Str("status", string(u.Status)).Msg("No video row for job, status not recorded")
	}
	return nil
}
