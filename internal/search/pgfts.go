package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The 'simple' configuration is used because Arabic has no stemmer there.
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

const entityVector = "to_tsvector('simple', e.text || ' ' || COALESCE(e.normalized, ''))"

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if (q.FilterType == "" || q.FilterType == ResultDocument) && q.EntityType == "" && q.DocumentID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				d.doc_number AS snippet,
				d.id AS document_id, ''::text AS entity_type,
				0 AS start_char, 0 AS end_char,
				ts_rank(to_tsvector('simple', d.title || ' ' || d.doc_number), %s) AS rank
			FROM documents d
			WHERE to_tsvector('simple', d.title || ' ' || d.doc_number) @@ %s`, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultEntity {
		where := entityVector + " @@ " + tsQuery
		if q.EntityType != "" {
			where += fmt.Sprintf(" AND e.type = $%d", argN)
			args = append(args, q.EntityType)
			argN++
		}
		if q.DocumentID != "" {
			where += fmt.Sprintf(" AND e.document_id = $%d", argN)
			args = append(args, q.DocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'entity'::text AS type, e.ent_id, e.text AS title,
				COALESCE(NULLIF(e.normalized, ''), d.title) AS snippet,
				e.document_id, e.type AS entity_type,
				e.start_char, e.end_char,
				ts_rank(%s, %s) AS rank
			FROM entities e
			JOIN documents d ON d.id = e.document_id
			WHERE %s`, entityVector, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, entity_type, start_char, end_char
		FROM (%s) sub
		ORDER BY rank DESC, document_id, start_char
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.EntityType, &r.Start, &r.End); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []EntityRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, doc_number, doc_type, status
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.DocNumber, &d.DocType, &d.Status); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	entityRows, err := p.db.QueryContext(ctx, `
		SELECT e.document_id, e.ent_id, d.title, e.type, e.text,
			COALESCE(e.normalized, ''), COALESCE(e.canonical_num, ''),
			e.start_char, e.end_char
		FROM entities e
		JOIN documents d ON d.id = e.document_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load entities: %w", err)
	}
	defer entityRows.Close()

	entities := make([]EntityRecord, 0)
	for entityRows.Next() {
		var e EntityRecord
		if err := entityRows.Scan(&e.DocumentID, &e.EntID, &e.DocTitle, &e.Type, &e.Text, &e.Normalized, &e.CanonicalNum, &e.Start, &e.End); err != nil {
			return nil, nil, fmt.Errorf("scan entity: %w", err)
		}
		e.ID = EntityKey(e.DocumentID, e.EntID)
		entities = append(entities, e)
	}
	if err := entityRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate entities: %w", err)
	}
	return documents, entities, nil
}
