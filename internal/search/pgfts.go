package search

import (
	"context"
	"database/sql"
	"fmt"
)

// the expression here must match the GIN index in db/migrations so the
// planner can use it
const ftsExpr = `to_tsvector('english', title || ' ' || description || ' ' || category)`

// PgFTS searches complaints with PostgreSQL full-text search. It is the
// fallback path; if Postgres is down the whole service is down anyway.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// SearchIDs returns matching complaint ids ranked by ts_rank descending,
// ties broken by recency.
func (p *PgFTS) SearchIDs(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id
		FROM complaints
		WHERE %s @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(%s, plainto_tsquery('english', $1)) DESC, created_at DESC
		LIMIT $2`, ftsExpr, ftsExpr), query, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
