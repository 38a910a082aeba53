// Package catalog persists an audit trail of committed index revisions to
// PostgreSQL, external to the core's correctness: the core's durability
// comes entirely from the Directory (spec.md §1), and this table exists
// only for operational visibility into what got committed and when.
//
// It requires a `revisions` table:
//
//	CREATE TABLE revisions (
//	    revision      BIGINT PRIMARY KEY,
//	    segment_ids   BIGINT[] NOT NULL,
//	    doc_count     BIGINT NOT NULL,
//	    committed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/acoustid-go/fpindex/pkg/postgres"
)

// Catalog records committed index revisions.
type Catalog struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Catalog backed by db.
func New(db *postgres.Client) *Catalog {
	return &Catalog{
		db:     db,
		logger: slog.Default().With("component", "catalog"),
	}
}

// RecordRevision inserts one audit row for a newly committed revision.
// Re-recording the same revision (e.g. after a crash and retry) is a no-op.
func (c *Catalog) RecordRevision(ctx context.Context, revision uint64, segmentIDs []uint64, docCount int64) error {
	ids := make([]int64, len(segmentIDs))
	for i, id := range segmentIDs {
		ids[i] = int64(id)
	}
	_, err := c.db.DB.ExecContext(ctx,
		`INSERT INTO revisions (revision, segment_ids, doc_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (revision) DO NOTHING`,
		int64(revision), pq.Array(ids), docCount,
	)
	if err != nil {
		return fmt.Errorf("recording revision %d: %w", revision, err)
	}
	c.logger.Debug("revision recorded", "revision", revision, "segments", len(segmentIDs), "docs", docCount)
	return nil
}

// LatestRevision returns the most recently committed revision number, or
// (0, false) if no revision has been recorded yet.
func (c *Catalog) LatestRevision(ctx context.Context) (uint64, bool, error) {
	var revision int64
	err := c.db.DB.QueryRowContext(ctx,
		`SELECT revision FROM revisions ORDER BY revision DESC LIMIT 1`,
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying latest revision: %w", err)
	}
	return uint64(revision), true, nil
}
