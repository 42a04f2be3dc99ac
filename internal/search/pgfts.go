package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PgFTS implements Backend using PostgreSQL full-text search on note titles.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches public published notes of the tenant whose title matches
// the query as words or as a plain substring, best match first.
func (p *PgFTS) Search(ctx context.Context, tenantID uuid.UUID, text string, limit int) ([]uuid.UUID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT n.id::text
		FROM notes n
		JOIN workspaces w ON w.id = n.workspace_id
		WHERE w.tenant_id = $1
		  AND n.deleted_at IS NULL
		  AND w.deleted_at IS NULL
		  AND n.status = 'published'
		  AND n.visibility = 'public'
		  AND (to_tsvector('simple', n.title) @@ plainto_tsquery('simple', $2)
		       OR strpos(lower(n.title), lower($2)) > 0)
		ORDER BY ts_rank(to_tsvector('simple', n.title), plainto_tsquery('simple', $2)) DESC,
		         n.updated_at DESC
		LIMIT $3`, tenantID, text, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	raw := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		raw = append(raw, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgfts iterate: %w", err)
	}
	return parseIDs(raw), nil
}

// LoadPublicNotes returns every public published note for full reindexing.
func (p *PgFTS) LoadPublicNotes(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT n.id::text, w.tenant_id::text, n.workspace_id::text, n.title, n.vote_count,
		       extract(epoch FROM n.created_at)::bigint,
		       coalesce((SELECT array_to_string(array_agg(t.name ORDER BY t.name), ',')
		                 FROM note_tags nt JOIN tags t ON t.id = nt.tag_id
		                 WHERE nt.note_id = n.id), '')
		FROM notes n
		JOIN workspaces w ON w.id = n.workspace_id
		WHERE n.deleted_at IS NULL
		  AND w.deleted_at IS NULL
		  AND n.status = 'published'
		  AND n.visibility = 'public'`)
	if err != nil {
		return nil, fmt.Errorf("load public notes: %w", err)
	}
	defer rows.Close()

	records := make([]NoteRecord, 0)
	for rows.Next() {
		var (
			r       NoteRecord
			tagList string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.WorkspaceID, &r.Title, &r.VoteCount, &r.CreatedAt, &tagList); err != nil {
			return nil, fmt.Errorf("scan public note: %w", err)
		}
		r.Tags = []string{}
		if tagList != "" {
			r.Tags = strings.Split(tagList, ",")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public notes: %w", err)
	}
	return records, nil
}
