package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the idempotent DDL for the job record store. Retention and
// deletion of terminal records is an external concern; the pipeline never
// deletes rows.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  id               uuid PRIMARY KEY,
  job_type         text        NOT NULL,
  status           text        NOT NULL,
  payload          jsonb       NOT NULL DEFAULT '{}',
  input_reference  text        NOT NULL DEFAULT '',
  output_reference text,
  failure_reason   text,
  notify_target    text        NOT NULL DEFAULT '',
  notified         boolean     NOT NULL DEFAULT false,
  created_at       timestamptz NOT NULL DEFAULT now(),
  updated_at       timestamptz NOT NULL DEFAULT now(),
  completed_at     timestamptz,
  CONSTRAINT jobs_output_iff_completed CHECK (
    (status = 'completed') = (output_reference IS NOT NULL)
  )
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_type_status ON jobs (job_type, status);
`

// RunMigrations applies the record store schema on startup.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database schema applied")
	}
	return nil
}
